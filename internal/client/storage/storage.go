// Package storage implements the dispenser command-line client: mTLS
// registration, API calls and an encrypted local wallet of received
// credentials.
package storage

import (
	"bytes"
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/natefinch/atomic"
)

// DefaultWalletFile is the wallet path used by the CLI.
const DefaultWalletFile = "wallet.json"

// Wallet keeps every credential the user received, encrypted at rest.
type Wallet struct {
	Entries []Entry `json:"entries"`

	path string
	mu   sync.Mutex
}

// LoadWallet reads the wallet at path. A missing file yields an empty wallet.
func LoadWallet(path string) (*Wallet, error) {
	w := &Wallet{path: path, Entries: []Entry{}}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return w, nil
		}
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(w); err != nil {
		return nil, fmt.Errorf("decode wallet: %w", err)
	}
	return w, nil
}

// Save writes the wallet atomically.
func (w *Wallet) Save() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(w.path, bytes.NewReader(b))
}

// Add encrypts and stores g. Adding an id twice keeps the first copy.
func (w *Wallet) Add(g Generated, aead cipher.AEAD) (bool, error) {
	plain, err := json.Marshal(g.Account)
	if err != nil {
		return false, err
	}
	data, err := seal(aead, plain)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.Entries {
		if e.ID == g.ID {
			return false, nil
		}
	}
	w.Entries = append(w.Entries, Entry{
		ID:          g.ID,
		Service:     g.Service,
		Data:        data,
		GeneratedAt: g.GeneratedAt,
		Recorded:    g.Recorded,
	})
	return true, nil
}

// Get returns the decrypted account of entry id.
func (w *Wallet) Get(id string, aead cipher.AEAD) (Entry, Account, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.Entries {
		if e.ID != id || e.Deleted {
			continue
		}
		plain, err := open(aead, e.Data)
		if err != nil {
			return e, Account{}, fmt.Errorf("decrypt %s: %w", id, err)
		}
		var acc Account
		if err := json.Unmarshal(plain, &acc); err != nil {
			return e, Account{}, fmt.Errorf("decode %s: %w", id, err)
		}
		return e, acc, nil
	}
	return Entry{}, Account{}, os.ErrNotExist
}

// Delete marks entry id deleted.
func (w *Wallet) Delete(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.Entries {
		if w.Entries[i].ID == id && !w.Entries[i].Deleted {
			w.Entries[i].Deleted = true
			return true
		}
	}
	return false
}

// List prints live entries, newest first, decrypting each account.
func (w *Wallet) List(out io.Writer, aead cipher.AEAD) {
	w.mu.Lock()
	entries := make([]Entry, 0, len(w.Entries))
	for _, e := range w.Entries {
		if !e.Deleted {
			entries = append(entries, e)
		}
	}
	w.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].GeneratedAt.After(entries[j].GeneratedAt)
	})

	fmt.Fprintln(out, "Stored credentials:")
	for _, e := range entries {
		plain, err := open(aead, e.Data)
		if err != nil {
			fmt.Fprintf(out, "ID: %s (decryption error)\n", e.ID)
			continue
		}
		var acc Account
		if err := json.Unmarshal(plain, &acc); err != nil {
			fmt.Fprintf(out, "ID: %s (decode error)\n", e.ID)
			continue
		}
		fmt.Fprintf(out, "ID: %s\nService: %s\nAccount: %s\nGenerated: %s\n---\n",
			e.ID, e.Service, FormatAccount(acc), e.GeneratedAt.Format("2006-01-02 15:04:05"))
	}
}

// FormatAccount renders acc back in the stock line layout.
func FormatAccount(acc Account) string {
	if acc.Password == "" && acc.Raw != "" {
		return acc.Raw
	}
	id := acc.Email
	if id == "" {
		id = acc.Username
	}
	s := id + ":" + acc.Password
	if acc.AdditionalData != "" {
		s += ":" + acc.AdditionalData
	}
	return s
}
