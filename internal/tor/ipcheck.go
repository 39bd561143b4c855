package tor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultIPCheckURL echoes the caller's public IP address as plain text.
const DefaultIPCheckURL = "http://api.ipify.org/"

// maxIPResponse bounds the echo response; an address is never this long.
const maxIPResponse = 256

// VerifyAnonymity requests endpoint once without and once through the proxy
// and compares the answers. Identical answers mean traffic is leaving from
// the real address, and ErrNotAnonymized is returned. The proxied IP is
// returned on success.
func VerifyAnonymity(ctx context.Context, direct, proxied *http.Client, endpoint string) (string, error) {
	directIP, err := fetchIP(ctx, direct, endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: direct: %w", ErrIPCheckFailed, err)
	}
	proxiedIP, err := fetchIP(ctx, proxied, endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: proxied: %w", ErrIPCheckFailed, err)
	}
	if directIP == proxiedIP {
		return "", fmt.Errorf("%w (%s)", ErrNotAnonymized, directIP)
	}
	return proxiedIP, nil
}

func fetchIP(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIPResponse))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return "", fmt.Errorf("empty response from %s", endpoint)
	}
	return ip, nil
}
