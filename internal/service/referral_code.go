package service

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/gosimple/unidecode"
)

const (
	codePrefixLen = 4
	codeSuffixMax = 10000
)

// CodeGenerator produces referral code candidates: up to four letters or
// digits taken from the display name (or the email local part), upper-cased,
// followed by a zero-padded four digit number. Uniqueness is checked by the
// caller against the directory.
type CodeGenerator struct {
	mu   sync.Mutex
	intn func(n int) int
}

func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{intn: rand.IntN}
}

// NewSeededCodeGenerator is deterministic; tests and tools use it to replay
// a sequence.
func NewSeededCodeGenerator(seed uint64) *CodeGenerator {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &CodeGenerator{intn: r.IntN}
}

func (g *CodeGenerator) Next(name, email string) string {
	g.mu.Lock()
	n := g.intn(codeSuffixMax)
	g.mu.Unlock()
	return fmt.Sprintf("%s%04d", CodePrefix(name, email), n)
}

func CodePrefix(name, email string) string {
	p := asciiAlnumUpper(name)
	if p == "" {
		local, _, _ := strings.Cut(email, "@")
		p = asciiAlnumUpper(local)
	}
	if p == "" {
		p = "USER"
	}
	if len(p) > codePrefixLen {
		p = p[:codePrefixLen]
	}
	return p
}

// NormalizeCode canonicalizes a code typed by a user.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func asciiAlnumUpper(s string) string {
	s = unidecode.Unidecode(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
		if b.Len() == codePrefixLen {
			break
		}
	}
	return b.String()
}
