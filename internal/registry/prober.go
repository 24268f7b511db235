// Package registry probes package registries for the presence of
// packages and package versions. Probes never fail hard: any transport
// problem, auth rejection, or timeout comes back as "not found" together
// with a structured error the caller may log.
package registry

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/tidwall/gjson"

	"github.com/graymoon-build/graymoon/internal/store"
)

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 15 * time.Second

	// maxCatalogBytes bounds a catalog response body.
	maxCatalogBytes = 4 << 20
)

// ProbeError describes a failed probe. It never propagates as a hard
// error; probes return false alongside it.
type ProbeError struct {
	Connector string
	Package   string
	Reason    string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probing %q on connector %q: %s", e.Package, e.Connector, e.Reason)
}

// Prober answers package presence questions against registry connectors.
type Prober interface {
	PackageExists(ctx context.Context, conn *store.Connector, packageID string) (bool, error)
	PackageVersionExists(ctx context.Context, conn *store.Connector, packageID, version string) (bool, error)
}

// authMode is derived from the connector's base URL shape rather than
// configured explicitly.
type authMode int

const (
	// authNone is used for public open registries.
	authNone authMode = iota
	// authBearer is used for VCS-host package registries and for
	// private catalogs without a user name.
	authBearer
	// authBasic is used for private catalogs carrying both a user name
	// and a token.
	authBasic
)

// publicHosts are well-known open registries that take no credentials.
var publicHosts = []string{
	"api.nuget.org",
	"registry.npmjs.org",
	"proxy.golang.org",
}

func modeFor(conn *store.Connector) authMode {
	host := conn.BaseURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	for _, h := range publicHosts {
		if strings.EqualFold(host, h) {
			return authNone
		}
	}
	// Feed paths under a VCS host ship bearer tokens; only standalone
	// catalogs use basic auth.
	if strings.Contains(conn.BaseURL, "/_packaging/") {
		return authBearer
	}
	if conn.UserName != "" && conn.Token != "" {
		return authBasic
	}
	if conn.Token != "" {
		return authBearer
	}
	return authNone
}

// HTTPProber probes registries over their flat JSON catalog endpoint:
// GET <base>/<packageId>/index.json returning {"versions": [...]}.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober with the standard probe timeouts.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				TLSHandshakeTimeout:   connectTimeout,
				ResponseHeaderTimeout: readTimeout,
				MaxIdleConnsPerHost:   4,
			},
		},
	}
}

// PackageExists reports whether the connector's catalog knows the package
// id at all.
func (p *HTTPProber) PackageExists(ctx context.Context, conn *store.Connector, packageID string) (bool, error) {
	versions, err := p.fetchVersions(ctx, conn, packageID)
	if err != nil {
		return false, err
	}
	return len(versions) > 0, nil
}

// PackageVersionExists reports whether the exact version appears in the
// package's catalog version list.
func (p *HTTPProber) PackageVersionExists(ctx context.Context, conn *store.Connector, packageID, version string) (bool, error) {
	versions, err := p.fetchVersions(ctx, conn, packageID)
	if err != nil {
		return false, err
	}
	for _, v := range versions {
		if strings.EqualFold(v, version) {
			return true, nil
		}
	}
	return false, nil
}

func (p *HTTPProber) fetchVersions(ctx context.Context, conn *store.Connector, packageID string) ([]string, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("registry-prober")

	url := catalogURL(conn.BaseURL, packageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ProbeError{Connector: conn.Name, Package: packageID, Reason: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	switch modeFor(conn) {
	case authBearer:
		req.Header.Set("Authorization", "Bearer "+conn.Token)
	case authBasic:
		req.SetBasicAuth(conn.UserName, conn.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProbeError{Connector: conn.Name, Package: packageID, Reason: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, &ProbeError{
			Connector: conn.Name,
			Package:   packageID,
			Reason:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return nil, &ProbeError{Connector: conn.Name, Package: packageID, Reason: err.Error()}
	}

	raw := gjson.GetBytes(body, "versions")
	if !raw.Exists() || !raw.IsArray() {
		log.V(1).Info("catalog response missing versions array", "connector", conn.Name, "package", packageID)
		return nil, nil
	}
	var versions []string
	raw.ForEach(func(_, value gjson.Result) bool {
		versions = append(versions, value.String())
		return true
	})
	return versions, nil
}

// catalogURL builds the flat catalog endpoint for a package id. Package
// ids are lowercased on the wire.
func catalogURL(base, packageID string) string {
	return strings.TrimRight(base, "/") + "/" + strings.ToLower(packageID) + "/index.json"
}

// ProbeConnector checks a connector's reachability for status display. A
// non-2xx response still counts as reachable.
func ProbeConnector(ctx context.Context, client *http.Client, conn *store.Connector) error {
	if client == nil {
		client = &http.Client{Timeout: readTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, conn.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("probing connector %q: %w", conn.Name, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probing connector %q: %w", conn.Name, err)
	}
	resp.Body.Close()
	return nil
}
