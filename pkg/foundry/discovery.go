package foundry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

const probeTimeout = 2 * time.Second

func candidateURLs(hosts []string, ports []int) (urls []string) {
	if len(hosts) == 0 || hosts[0] == "" {
		hosts = DefaultAPIHosts
	}
	if len(ports) == 0 || ports[0] == 0 {
		ports = DefaultAPIPorts
	}
	for _, proto := range []string{"http", "https"} {
		for _, host := range hosts {
			for _, port := range ports {
				urls = append(urls, fmt.Sprintf("%s://%s:%d", proto, host, port))
			}
		}
	}
	return urls
}

// Discover looks for a running service, first on the given or default local
// addresses and then on the non-loopback IPv4 addresses of this machine.
// Candidates are probed concurrently; the earliest candidate in order wins.
func Discover(ctx context.Context, host string, port int, logger logging.Logger) (string, error) {
	logger = logging.OrDefault(logger)
	client := &http.Client{Timeout: probeTimeout}
	logger.Debug("Attempting to discover inference service...")

	if url, ok := probeAll(ctx, client, candidateURLs([]string{host}, []int{port}), logger); ok {
		return url, nil
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}
	var ips []string
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			ips = append(ips, ipnet.IP.String())
		}
	}
	if len(ips) > 0 {
		if url, ok := probeAll(ctx, client, candidateURLs(ips, []int{port}), logger); ok {
			logger.Info("Inference service found at %s", url)
			return url, nil
		}
	}
	return "", fmt.Errorf("no inference service found on the local network")
}

func probeAll(ctx context.Context, client *http.Client, urls []string, logger logging.Logger) (string, bool) {
	found := make([]bool, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			found[i] = isServiceRunning(gctx, client, url, logger)
			return nil
		})
	}
	_ = g.Wait()
	for i, ok := range found {
		if ok {
			return urls[i], true
		}
	}
	return "", false
}

// isServiceRunning probes the model listing of the OpenAI-compatible API.
func isServiceRunning(ctx context.Context, client *http.Client, url string, logger logging.Logger) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+CompletionAPIPath+"/models", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Trace("Failed to connect to %s: %v", url, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		logger.Debug("Inference service answered at %s", url)
		return true
	}
	logger.Debug("Received unexpected status code %d from %s", resp.StatusCode, url)
	return false
}
