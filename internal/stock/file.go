package stock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/novaxell/dispenser/internal/models"
)

const (
	poolExt    = ".txt"
	journalExt = ".reserved"
)

// FilePool keeps one line-oriented text file per service in a directory.
// Reservations are journaled next to the pool in <service>.reserved as
// tab-separated "id, unix nanos, state, remaining, line" records, where
// remaining is the pool length once the reserved line has been taken.
type FilePool struct {
	dir   string
	now   func() time.Time
	locks keyedMutex
}

// NewFilePool creates the stock directory if needed and returns a pool over it.
func NewFilePool(dir string) (*FilePool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create stock dir: %w", err)
	}
	return &FilePool{dir: dir, now: time.Now}, nil
}

func (p *FilePool) poolPath(service string) string {
	return filepath.Join(p.dir, service+poolExt)
}

func (p *FilePool) journalPath(service string) string {
	return filepath.Join(p.dir, service+journalExt)
}

// Reserve takes the head line of the service pool. The reservation is
// journaled as pending before the pool file is rewritten and marked
// reserved afterwards.
func (p *FilePool) Reserve(ctx context.Context, service string) (models.Reservation, error) {
	if err := ValidateService(service); err != nil {
		return models.Reservation{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Reservation{}, err
	}

	unlock := p.locks.lock(service)
	defer unlock()

	lines, err := readLines(p.poolPath(service))
	if err != nil {
		return models.Reservation{}, fmt.Errorf("read pool %s: %w", service, err)
	}
	journal, err := p.readJournal(service)
	if err != nil {
		return models.Reservation{}, err
	}
	if journal, err = p.settle(service, journal, len(lines)); err != nil {
		return models.Reservation{}, err
	}
	if len(lines) == 0 {
		return models.Reservation{}, models.ErrOutOfStock
	}

	e := journalEntry{
		Reservation: models.Reservation{
			ID:         uuid.NewString(),
			Service:    service,
			Line:       lines[0],
			ReservedAt: p.now(),
		},
		state:     statePending,
		remaining: len(lines) - 1,
	}
	if err := p.writeJournal(service, append(journal, e)); err != nil {
		return models.Reservation{}, err
	}

	if err := writeLines(p.poolPath(service), lines[1:]); err != nil {
		if jerr := p.writeJournal(service, journal); jerr != nil {
			return models.Reservation{}, fmt.Errorf("rewrite pool %s: %w (journal rollback: %v)", service, err, jerr)
		}
		return models.Reservation{}, fmt.Errorf("rewrite pool %s: %w", service, err)
	}

	// A pending entry left behind here is settled by the next pool write.
	e.state = stateReserved
	if err := p.writeJournal(service, append(journal, e)); err != nil {
		return models.Reservation{}, err
	}
	return e.Reservation, nil
}

// Confirm drops the reservation: the line is gone for good.
func (p *FilePool) Confirm(ctx context.Context, r models.Reservation) error {
	if err := ValidateService(r.Service); err != nil {
		return err
	}

	unlock := p.locks.lock(r.Service)
	defer unlock()

	journal, err := p.readJournal(r.Service)
	if err != nil {
		return err
	}
	rest, _, ok := without(journal, r.ID)
	if !ok {
		return ErrReservationNotFound
	}
	return p.writeJournal(r.Service, rest)
}

// MarkDelivered flags the reservation as handed to a user. A delivered
// reservation can only be confirmed.
func (p *FilePool) MarkDelivered(ctx context.Context, r models.Reservation) error {
	if err := ValidateService(r.Service); err != nil {
		return err
	}

	unlock := p.locks.lock(r.Service)
	defer unlock()

	journal, err := p.readJournal(r.Service)
	if err != nil {
		return err
	}
	for i := range journal {
		if journal[i].ID == r.ID {
			journal[i].state = stateDelivered
			return p.writeJournal(r.Service, journal)
		}
	}
	return ErrReservationNotFound
}

// Release puts a reserved line back at the head of its pool. Releasing a
// reservation whose line never left the pool only drops the journal entry.
func (p *FilePool) Release(ctx context.Context, r models.Reservation) error {
	if err := ValidateService(r.Service); err != nil {
		return err
	}

	unlock := p.locks.lock(r.Service)
	defer unlock()

	journal, err := p.readJournal(r.Service)
	if err != nil {
		return err
	}
	if _, entry, ok := without(journal, r.ID); !ok {
		return ErrReservationNotFound
	} else if entry.state == stateDelivered {
		return ErrReservationDelivered
	}

	lines, err := readLines(p.poolPath(r.Service))
	if err != nil {
		return fmt.Errorf("read pool %s: %w", r.Service, err)
	}
	if journal, err = p.settle(r.Service, journal, len(lines)); err != nil {
		return err
	}
	rest, entry, ok := without(journal, r.ID)
	if !ok {
		return nil
	}
	if err := writeLines(p.poolPath(r.Service), append([]string{entry.Line}, lines...)); err != nil {
		return fmt.Errorf("restore pool %s: %w", r.Service, err)
	}

	if err := p.writeJournal(r.Service, rest); err != nil {
		if perr := writeLines(p.poolPath(r.Service), lines); perr != nil {
			return fmt.Errorf("%w (pool rollback: %v)", err, perr)
		}
		return err
	}
	return nil
}

// Stale lists reservations made before the given time, across all services.
func (p *FilePool) Stale(ctx context.Context, before time.Time) ([]models.Reservation, error) {
	paths, err := filepath.Glob(filepath.Join(p.dir, "*"+journalExt))
	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}

	var stale []models.Reservation
	for _, path := range paths {
		service := strings.TrimSuffix(filepath.Base(path), journalExt)
		if ValidateService(service) != nil {
			continue
		}
		unlock := p.locks.lock(service)
		journal, err := p.readJournal(service)
		unlock()
		if err != nil {
			return nil, err
		}
		for _, e := range journal {
			if e.ReservedAt.Before(before) {
				r := e.Reservation
				r.Delivered = e.state == stateDelivered
				stale = append(stale, r)
			}
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ReservedAt.Before(stale[j].ReservedAt) })
	return stale, nil
}

// Size reports the number of available lines. A missing pool has size 0.
func (p *FilePool) Size(ctx context.Context, service string) (int, error) {
	if err := ValidateService(service); err != nil {
		return 0, err
	}
	unlock := p.locks.lock(service)
	defer unlock()

	lines, err := readLines(p.poolPath(service))
	if err != nil {
		return 0, fmt.Errorf("read pool %s: %w", service, err)
	}
	return len(lines), nil
}

// Services lists the pools present in the stock directory.
func (p *FilePool) Services(ctx context.Context) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(p.dir, "*"+poolExt))
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	services := make([]string, 0, len(paths))
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), poolExt)
		if ValidateService(name) == nil {
			services = append(services, name)
		}
	}
	sort.Strings(services)
	return services, nil
}

// Import appends lines to the tail of a pool and returns how many were added.
func (p *FilePool) Import(ctx context.Context, service string, lines []string) (int, error) {
	if err := ValidateService(service); err != nil {
		return 0, err
	}
	added := SplitLines(strings.Join(lines, "\n"))

	unlock := p.locks.lock(service)
	defer unlock()

	existing, err := readLines(p.poolPath(service))
	if err != nil {
		return 0, fmt.Errorf("read pool %s: %w", service, err)
	}
	journal, err := p.readJournal(service)
	if err != nil {
		return 0, err
	}
	if _, err := p.settle(service, journal, len(existing)); err != nil {
		return 0, err
	}
	if err := writeLines(p.poolPath(service), append(existing, added...)); err != nil {
		return 0, fmt.Errorf("write pool %s: %w", service, err)
	}
	return len(added), nil
}

// Pop reserves and immediately confirms the head line.
func (p *FilePool) Pop(ctx context.Context, service string) (string, error) {
	r, err := p.Reserve(ctx, service)
	if err != nil {
		return "", err
	}
	if err := p.Confirm(ctx, r); err != nil {
		return "", err
	}
	return r.Line, nil
}

type entryState string

const (
	statePending   entryState = "pending"
	stateReserved  entryState = "reserved"
	stateDelivered entryState = "delivered"
)

// journalEntry is one reservation record of a service journal.
type journalEntry struct {
	models.Reservation
	state     entryState
	remaining int
}

func (p *FilePool) readJournal(service string) ([]journalEntry, error) {
	data, err := os.ReadFile(p.journalPath(service))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", service, err)
	}

	var journal []journalEntry
	for _, rec := range strings.Split(string(data), "\n") {
		if rec == "" {
			continue
		}
		fields := strings.SplitN(rec, "\t", 5)
		if len(fields) != 5 {
			return nil, fmt.Errorf("journal %s: malformed record %q", service, rec)
		}
		nanos, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("journal %s: bad timestamp: %w", service, err)
		}
		state := entryState(fields[2])
		switch state {
		case statePending, stateReserved, stateDelivered:
		default:
			return nil, fmt.Errorf("journal %s: unknown state %q", service, fields[2])
		}
		remaining, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("journal %s: bad pool length: %w", service, err)
		}
		journal = append(journal, journalEntry{
			Reservation: models.Reservation{
				ID:         fields[0],
				Service:    service,
				Line:       fields[4],
				ReservedAt: time.Unix(0, nanos),
			},
			state:     state,
			remaining: remaining,
		})
	}
	return journal, nil
}

func (p *FilePool) writeJournal(service string, journal []journalEntry) error {
	path := p.journalPath(service)
	if len(journal) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear journal %s: %w", service, err)
		}
		return nil
	}

	var b strings.Builder
	for _, e := range journal {
		fmt.Fprintf(&b, "%s\t%d\t%s\t%d\t%s\n", e.ID, e.ReservedAt.UnixNano(), e.state, e.remaining, e.Line)
	}
	if err := atomic.WriteFile(path, strings.NewReader(b.String())); err != nil {
		return fmt.Errorf("write journal %s: %w", service, err)
	}
	return nil
}

// settle resolves pending entries left by an interrupted Reserve and must
// run before the pool length changes. The pool rewrite happened exactly when
// the pool is at the recorded length; otherwise the line is still in the
// pool and the entry is dropped.
func (p *FilePool) settle(service string, journal []journalEntry, poolLen int) ([]journalEntry, error) {
	settled := make([]journalEntry, 0, len(journal))
	changed := false
	for _, e := range journal {
		if e.state == statePending {
			changed = true
			if poolLen != e.remaining {
				continue
			}
			e.state = stateReserved
		}
		settled = append(settled, e)
	}
	if !changed {
		return journal, nil
	}
	if err := p.writeJournal(service, settled); err != nil {
		return nil, err
	}
	return settled, nil
}

func without(journal []journalEntry, id string) ([]journalEntry, journalEntry, bool) {
	for i, e := range journal {
		if e.ID == id {
			rest := make([]journalEntry, 0, len(journal)-1)
			rest = append(rest, journal[:i]...)
			rest = append(rest, journal[i+1:]...)
			return rest, e, true
		}
	}
	return journal, journalEntry{}, false
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return SplitLines(string(data)), nil
}

func writeLines(path string, lines []string) error {
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	return atomic.WriteFile(path, strings.NewReader(content))
}
