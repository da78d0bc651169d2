package admin

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var ErrNoEditableKeys = errors.New("no editable keys in update")

// EditableKeys are the runtime knobs operators may change from the admin
// API. Changes take effect on the next restart.
var EditableKeys = []string{
	"GLOBAL_DAILY_LIMIT",
	"WHEEL_TIMEZONE",
	"PENDING_LEASE_TTL",
	"LEASE_SWEEP_INTERVAL",
	"CATALOG_CACHE_TTL",
	"QUOTA_SCHEDULER_TICK",
	"KAFKA_BROKERS",
	"KAFKA_TOPIC",
	"FULFILLMENT_BACKEND_URL",
	"FULFILLMENT_BACKEND_TOKEN",
	"ADMIN_ALLOWED_IPS",
	"LOG_LEVEL",
}

var secretKeys = map[string]bool{
	"FULFILLMENT_BACKEND_TOKEN": true,
}

// EnvService reads and rewrites the server's .env file.
type EnvService struct {
	path string
	mu   sync.Mutex
}

func NewEnvService(path string) *EnvService {
	return &EnvService{path: path}
}

func (s *EnvService) readNoLock() (map[string]string, error) {
	values, err := godotenv.Read(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return values, nil
}

// Editable returns the editable keys present in the file. Secrets are
// masked.
func (s *EnvService) Editable() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.readNoLock()
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, key := range EditableKeys {
		v, ok := values[key]
		if !ok {
			continue
		}
		if secretKeys[key] && v != "" {
			v = mask(v)
		}
		out[key] = v
	}
	return out, nil
}

// Update merges the editable subset of updates into the file and returns
// the keys it wrote.
func (s *EnvService) Update(updates map[string]string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readNoLock()
	if err != nil {
		return nil, err
	}
	written := make([]string, 0, len(updates))
	for _, key := range EditableKeys {
		v, ok := updates[key]
		if !ok {
			continue
		}
		current[key] = strings.TrimSpace(v)
		written = append(written, key)
	}
	if len(written) == 0 {
		return nil, ErrNoEditableKeys
	}
	sort.Strings(written)
	if err := godotenv.Write(current, s.path); err != nil {
		return nil, fmt.Errorf("write %s: %w", s.path, err)
	}
	return written, nil
}

func mask(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
