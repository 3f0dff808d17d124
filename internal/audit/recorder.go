// Package audit persists one JSON file per completion under a configurable
// directory. The trail is best-effort: a failed write is logged by the
// caller and never fails the request.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/foundrygate/internal/observability"
)

const (
	serverVersion      = "1.0.0"
	auditFormatVersion = "1.0"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Config contains audit trail settings.
type Config struct {
	Enabled bool   `env:"AUDIT_ENABLED" envDefault:"true"`
	Dir     string `env:"AUDIT_DIR"     envDefault:"audits"`
}

// Entry is the on-disk audit envelope.
type Entry struct {
	AuditID     string   `json:"audit_id"`
	Timestamp   string   `json:"timestamp"`
	RequestType string   `json:"request_type"`
	Request     any      `json:"request"`
	Response    any      `json:"response"`
	Metadata    Metadata `json:"metadata"`
}

// Metadata describes the process that wrote the entry.
type Metadata struct {
	ServerVersion      string      `json:"server_version"`
	AuditFormatVersion string      `json:"audit_format_version"`
	Environment        Environment `json:"environment"`
}

// Environment captures runtime details for later forensics.
type Environment struct {
	GoVersion        string `json:"go_version"`
	Platform         string `json:"platform"`
	WorkingDirectory string `json:"working_directory"`
}

// FileRecorder implements domain.AuditRecorder on the local filesystem.
type FileRecorder struct {
	dir     string
	enabled bool
}

// NewFileRecorder creates a file-backed audit recorder (DI constructor).
func NewFileRecorder(cfg *Config) *FileRecorder {
	return &FileRecorder{
		dir:     cfg.Dir,
		enabled: cfg.Enabled,
	}
}

// Record writes one audit entry and returns its id. When auditing is
// disabled it is a no-op returning an empty id.
func (r *FileRecorder) Record(ctx context.Context, kind string, request, response any) (string, error) {
	if !r.enabled {
		return "", nil
	}

	if err := os.MkdirAll(r.dir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create audit directory: %w", err)
	}

	auditID := newAuditID()

	entry := Entry{
		AuditID:     auditID,
		Timestamp:   time.Now().Format(time.RFC3339Nano),
		RequestType: kind,
		Request:     request,
		Response:    response,
		Metadata: Metadata{
			ServerVersion:      serverVersion,
			AuditFormatVersion: auditFormatVersion,
			Environment:        captureEnvironment(),
		},
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	path := filepath.Join(r.dir, "audit_"+auditID+".json")
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return "", fmt.Errorf("failed to write audit file: %w", err)
	}

	observability.FromContext(ctx).Info("audit data saved",
		observability.String("audit_id", auditID),
		observability.String("audit_file", path),
	)

	return auditID, nil
}

func captureEnvironment() Environment {
	wd, _ := os.Getwd()
	return Environment{
		GoVersion:        runtime.Version(),
		Platform:         runtime.GOOS,
		WorkingDirectory: wd,
	}
}

// newAuditID builds a sortable timestamped id with a random suffix, e.g.
// 20240115_093000_123_1a2b3c4d.
func newAuditID() string {
	now := time.Now()
	ts := fmt.Sprintf("%s_%03d", now.Format("20060102_150405"), now.Nanosecond()/int(time.Millisecond))
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return ts + "_" + suffix
}
