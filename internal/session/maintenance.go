package session

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/rlm/internal/host"
)

// installedMarkerName is the first-run marker under ~/.pi/rlm/.
const installedMarkerName = ".installed"

// startupMaintenance runs once per session start: purge expired session
// directories and show the one-time first-run notice.
func (s *Session) startupMaintenance(hctx host.Context) {
	s.purgeExpiredSessions()
	s.firstRunNotice(hctx)
}

// purgeExpiredSessions removes sibling session directories older than the
// retention horizon. The active session is never touched.
func (s *Session) purgeExpiredSessions() {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	base := filepath.Join(s.cwd, ".pi", "rlm")
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == s.id {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(base, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("session: retention purge failed", "dir", dir, "error", err)
			continue
		}
		slog.Info("session: purged expired session store", "dir", dir, "age_days", int(time.Since(info.ModTime()).Hours()/24))
	}
}

// firstRunNotice shows the install notification exactly once per machine,
// gated by the ~/.pi/rlm/.installed marker.
func (s *Session) firstRunNotice(hctx host.Context) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	markerDir := filepath.Join(home, ".pi", "rlm")
	marker := filepath.Join(markerDir, installedMarkerName)
	if _, err := os.Stat(marker); err == nil {
		return
	} else if !errors.Is(err, os.ErrNotExist) {
		return
	}

	if err := os.MkdirAll(markerDir, 0o755); err != nil {
		slog.Warn("session: first-run marker dir failed", "error", err)
		return
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := os.WriteFile(marker, []byte(stamp+"\n"), 0o644); err != nil {
		slog.Warn("session: first-run marker write failed", "error", err)
		return
	}
	hctx.Notify(host.NotifyInfo,
		"RLM is active: long content is externalized to .pi/rlm and stays retrievable via rlm_peek, rlm_search, and rlm_query. /rlm for status.")
}
