// Package stock implements the per-service credential pools.
//
// A pool hands out lines in storage order. Taking a line is two-phase:
// Reserve removes it from the available set and persists it under a
// reservation id, Confirm forgets it once the issuance is recorded, and
// Release puts it back at the head of the pool when recording failed.
// MarkDelivered pins a reservation whose line reached a user without being
// recorded, so it is never released.
package stock

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/novaxell/dispenser/internal/models"
)

var (
	// ErrInvalidService is returned for names that cannot identify a pool.
	ErrInvalidService = fmt.Errorf("%w: invalid service name", models.ErrInvalidRequest)
	// ErrReservationNotFound is returned by Confirm and Release for unknown ids.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrReservationDelivered is returned by Release once the line was handed
	// to a user; such a reservation can only be confirmed.
	ErrReservationDelivered = errors.New("reservation already delivered")
)

var serviceName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateService reports whether name may be used as a pool name.
func ValidateService(name string) error {
	if !serviceName.MatchString(name) || strings.Contains(name, "..") {
		return ErrInvalidService
	}
	return nil
}

// SplitLines splits pool content into non-blank lines. Lines are kept
// verbatim apart from a trailing carriage return.
func SplitLines(content string) []string {
	var lines []string
	for _, l := range strings.Split(content, "\n") {
		l = strings.TrimSuffix(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
