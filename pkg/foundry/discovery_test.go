package foundry

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

func TestCandidateURLs(t *testing.T) {
	tests := []struct {
		name     string
		hosts    []string
		ports    []int
		expected []string
	}{
		{
			name:  "empty hosts use defaults",
			hosts: []string{},
			ports: []int{1234},
			expected: []string{
				"http://localhost:1234",
				"http://127.0.0.1:1234",
				"http://0.0.0.0:1234",
				"https://localhost:1234",
				"https://127.0.0.1:1234",
				"https://0.0.0.0:1234",
			},
		},
		{
			name:  "custom hosts and ports keep order",
			hosts: []string{"test.com"},
			ports: []int{8080, 9090},
			expected: []string{
				"http://test.com:8080",
				"http://test.com:9090",
				"https://test.com:8080",
				"https://test.com:9090",
			},
		},
		{
			name:  "zero port uses default ports",
			hosts: []string{"h"},
			ports: []int{0},
			expected: []string{
				"http://h:5273",
				"http://h:1234",
				"https://h:5273",
				"https://h:1234",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			urls := candidateURLs(tt.hosts, tt.ports)
			if len(urls) != len(tt.expected) {
				t.Fatalf("candidateURLs() returned %d urls (%v), want %d (%v)", len(urls), urls, len(tt.expected), tt.expected)
			}
			for i := range urls {
				if urls[i] != tt.expected[i] {
					t.Errorf("candidateURLs()[%d] = %s, want %s", i, urls[i], tt.expected[i])
				}
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	service, _ := getMockService(t)
	host, portStr, err := net.SplitHostPort(service.Host())
	if err != nil {
		t.Fatalf("Bad mock host: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	url, err := Discover(context.Background(), host, port, logging.NewRecorder(logging.LevelTrace))
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if url != service.URL {
		t.Errorf("Discover() = %s, want %s", url, service.URL)
	}
}

func TestIsServiceRunning(t *testing.T) {
	service, _ := getMockService(t)
	logger := logging.NewRecorder(logging.LevelTrace)
	client := service.Client()

	if !isServiceRunning(context.Background(), client, service.URL, logger) {
		t.Error("Expected mock service to be detected")
	}
	if isServiceRunning(context.Background(), client, service.URL+"/nope", logger) {
		t.Error("Expected unknown path to be rejected")
	}
}
