package app

import (
	"errors"
	"strings"

	"notifylog/internal/config"
	"notifylog/internal/router"
	"notifylog/internal/storage"
	logx "notifylog/pkg/logx"
)

// ErrNoArchive is returned by OpenArchive when no archive is configured.
var ErrNoArchive = errors.New("archive_handler is not configured")

// OpenArchive opens the archive described by cfg for reading. The caller closes it.
func OpenArchive(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	a := cfg.Logging.ArchiveHandler
	if a == nil {
		return nil, ErrNoArchive
	}
	driver := strings.TrimSpace(a.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return nil, ErrNoArchive
	}
	sc, err := router.ArchiveStorage(a)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNoArchive
	}
	return st, nil
}
