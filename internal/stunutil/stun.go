// Package stunutil discovers the public address of the direct-path
// socket and classifies the NAT in front of it. The internet backend
// uses the result to decide whether a direct peer link is worth
// attempting before falling over to relay.
package stunutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// NAT classifications. Symmetric NATs remap per destination, which
// makes hole punching unreliable.
const (
	NATUnknown   = "unknown"
	NATSymmetric = "symmetric"
	NATCone      = "cone_or_restricted"
)

// Result of a discovery pass.
type Result struct {
	PublicAddr string
	NATType    string
}

// Prober queries a set of STUN servers.
type Prober struct {
	Servers []string
	Timeout time.Duration
}

// Discover asks every configured server for the mapped address and
// classifies the NAT from the answers. It fails only when no server
// answered.
func (p Prober) Discover(ctx context.Context) (Result, error) {
	if len(p.Servers) == 0 {
		return Result{NATType: NATUnknown}, fmt.Errorf("no STUN servers configured")
	}

	mapped := make([]string, 0, len(p.Servers))
	var lastErr error
	for _, server := range p.Servers {
		addr, err := p.query(ctx, server)
		if err != nil {
			lastErr = err
			continue
		}
		mapped = append(mapped, addr)
	}
	if len(mapped) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("stun discovery failed")
		}
		return Result{NATType: NATUnknown}, lastErr
	}
	return Result{PublicAddr: mapped[0], NATType: Classify(mapped)}, nil
}

// Classify infers the NAT type from mapped addresses seen by different
// servers: differing mappings mean symmetric.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATUnknown
	}
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return NATSymmetric
		}
	}
	return NATCone
}

func (p Prober) query(ctx context.Context, server string) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)
	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
