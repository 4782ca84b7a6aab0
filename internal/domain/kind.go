package domain

import (
	"fmt"
	"strings"
)

// Kind identifies a notification delivery provider family.
type Kind string

const (
	KindEmail Kind = "email"
	KindPush  Kind = "push"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	switch k {
	case KindEmail, KindPush:
		return true
	}
	return false
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrValidation, s)
	}
	return k, nil
}

// Kinds returns every supported kind.
func Kinds() []Kind {
	return []Kind{KindEmail, KindPush}
}
