package relay

import (
	"net/http"
	"strconv"
	"strings"

	sockaddr "github.com/hashicorp/go-sockaddr"
	"github.com/pkg/errors"
)

// cloudPlatformSuffixes are host suffixes known to terminate TLS in front
// of this process, so the Host header's scheme should be upgraded to
// https even though the relay itself may be listening on plain HTTP
// behind the platform's edge.
var cloudPlatformSuffixes = []string{
	".onrender.com",
	".railway.app",
	".fly.dev",
	".herokuapp.com",
	".vercel.app",
	".up.railway.app",
	".azurewebsites.net",
}

// baseURL derives the relay's externally visible origin, in priority
// order: configured public_url, then the request's Host header (scheme
// upgraded for known cloud platforms), then a LAN IPv4 fallback.
func (s *Server) baseURL(r *http.Request) (string, error) {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL, nil
	}

	if r != nil && r.Host != "" {
		return hostHeaderBaseURL(r), nil
	}

	return s.lanFallbackBaseURL()
}

func hostHeaderBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := strings.ToLower(strings.TrimSpace(r.Host))
	for _, suffix := range cloudPlatformSuffixes {
		if strings.HasSuffix(host, suffix) {
			scheme = "https"
			break
		}
	}
	return scheme + "://" + r.Host
}

func (s *Server) lanFallbackBaseURL() (string, error) {
	ip, err := sockaddr.GetPrivateIP()
	if err != nil {
		return "", errors.Wrap(err, "discover LAN IPv4 address")
	}
	if ip == "" {
		return "", errors.New("no non-loopback IPv4 interface found")
	}

	scheme := "http"
	port := s.cfg.Port
	if s.cfg.UseHTTPS {
		scheme = "https"
		port = s.cfg.HTTPSPort
	}
	return scheme + "://" + ip + ":" + strconv.Itoa(port), nil
}
