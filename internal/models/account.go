package models

import "strings"

// AccountDelimiter separates the fields of a stock line.
const AccountDelimiter = ":"

// Account is the parsed form of a stock line. Email and Username are
// mutually exclusive; Raw is set only for lines without a password field.
type Account struct {
	Email          string `json:"email,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	AdditionalData string `json:"additionalData,omitempty"`
	Raw            string `json:"raw,omitempty"`
}

// ParseAccount splits a stock line into identifier, password and an
// optional trailing payload kept verbatim. It never fails: a line with
// fewer than two fields comes back as Raw.
func ParseAccount(line string) Account {
	parts := strings.SplitN(line, AccountDelimiter, 3)
	if len(parts) < 2 {
		return Account{Raw: line}
	}

	acc := Account{Password: parts[1]}
	if strings.Contains(parts[0], "@") {
		acc.Email = parts[0]
	} else {
		acc.Username = parts[0]
	}
	if len(parts) == 3 {
		acc.AdditionalData = parts[2]
	}
	return acc
}
