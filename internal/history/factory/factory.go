package factory

import (
	"errors"
	"net/url"
	"strings"

	"github.com/nicwh1988/respawn/internal/history"
	"github.com/nicwh1988/respawn/internal/history/clickhouse"
	"github.com/nicwh1988/respawn/internal/history/opensearch"
)

// NewSinkFromDSN creates a history sink from a DSN:
//   - "clickhouse://host:port?table=worker_history"
//   - "opensearch://host:port/index" (also "elasticsearch://")
func NewSinkFromDSN(dsn string) (history.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty history DSN")
	}
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "clickhouse://"):
		return parseClickHouseDSN(dsn)
	case strings.HasPrefix(lower, "opensearch://"), strings.HasPrefix(lower, "elasticsearch://"):
		return parseOpenSearchDSN(dsn)
	}
	return nil, errors.New("unsupported history DSN: " + dsn)
}

func parseClickHouseDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if host == "" {
		host = "localhost:9000" // ClickHouse native port
	}
	table := u.Query().Get("table")
	if table == "" {
		table = "worker_history"
	}
	return clickhouse.New(host, table)
}

func parseOpenSearchDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := "http"
	if u.Query().Get("tls") == "true" {
		scheme = "https"
	}
	index := strings.Trim(u.Path, "/")
	if index == "" {
		index = "worker-history"
	}
	return opensearch.New(scheme+"://"+u.Host, index), nil
}
