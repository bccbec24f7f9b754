package rsh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/driver"
)

// silentServer accepts sessions and exec requests but never sends output or
// an exit status.
func silentServer(t *testing.T) string {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, chans, reqs, err := ssh.NewServerConn(c, cfg)
				if err != nil {
					return
				}
				go ssh.DiscardRequests(reqs)
				for nc := range chans {
					ch, chReqs, err := nc.Accept()
					if err != nil {
						continue
					}
					go func() {
						defer ch.Close()
						for r := range chReqs {
							r.Reply(true, nil)
						}
					}()
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestSSHCommandTimeout(t *testing.T) {
	addr := silentServer(t)
	sh := &sshShell{
		cfg: &ssh.ClientConfig{
			User:            "ert",
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         5 * time.Second,
		},
		retries: 1,
		timeout: 100 * time.Millisecond,
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := sh.Run(context.Background(), addr, "cat /runs/0/.exit")
		errCh <- err
	}()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a timeout error from a command that never answers")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after its command timeout")
	}
}

func TestPollOfHungHostIsLost(t *testing.T) {
	addr := silentServer(t)
	sh := &sshShell{
		cfg: &ssh.ClientConfig{
			User:            "ert",
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         5 * time.Second,
		},
		retries: 1,
		timeout: 100 * time.Millisecond,
	}
	d, err := NewDriver([]Host{{Addr: addr, Slots: 1}}, sh, stats.NilStatsReceiver())
	if err != nil {
		t.Fatal(err)
	}
	h := &handle{host: d.hosts[0], pid: 4242, exitFile: "/runs/0/.exit"}
	d.handles[h] = struct{}{}
	if st := d.Poll(context.Background(), h); st.State != driver.LOST {
		t.Fatalf("expected LOST, got %v", st)
	}
}
