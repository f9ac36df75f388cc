package relay

import (
	"crypto/rand"
	"math/big"
	"regexp"

	"github.com/pkg/errors"

	"github.com/tunnelmux/tunnelmux/internal/domain"
)

const maxSlugLen = 63
const maxCollisionAttempts = 100

var slugCharsetRe = regexp.MustCompile(`^[a-z0-9-]+$`)

// adjectives and nouns form the random slug word lists: ~22 each, crossed
// with a 0-999 numeric suffix for ~484,000 combinations, per the slug
// allocation rule.
var adjectives = []string{
	"brave", "calm", "eager", "fuzzy", "gentle", "happy", "icy", "jolly",
	"keen", "lively", "merry", "nimble", "odd", "plucky", "quiet", "rusty",
	"shiny", "tiny", "upbeat", "vivid", "witty", "zesty",
}

var nouns = []string{
	"otter", "falcon", "badger", "comet", "dune", "ember", "fern", "glade",
	"heron", "island", "jaguar", "kelp", "lagoon", "meadow", "nebula",
	"oasis", "pebble", "quartz", "raven", "summit", "tundra", "willow",
}

// ValidSlug reports whether a client-preferred slug satisfies the character
// class and length rules: [a-z0-9-]+, length <= 63.
func ValidSlug(slug string) bool {
	if slug == "" || len(slug) > maxSlugLen {
		return false
	}
	return slugCharsetRe.MatchString(slug)
}

// allocateSlug registers sess under preferred (if valid and available), or
// under a freshly generated random slug otherwise. The check-and-insert is
// atomic per candidate because hub.register performs it under a single
// lock acquisition; collisions simply retry with the next candidate, so no
// outside synchronization is needed here.
func allocateSlug(h *hub, sess *session, preferred string) error {
	if preferred != "" && ValidSlug(preferred) {
		sess.slug = preferred
		if err := h.register(sess); err == nil {
			return nil
		} else if !errors.Is(err, domain.ErrSlugTaken) {
			return err
		}
		// fall through to random generation on collision; an invalid
		// preferred slug skips straight to random generation
	}

	for attempt := 0; attempt < maxCollisionAttempts; attempt++ {
		candidate, err := randomSlug()
		if err != nil {
			return err
		}
		sess.slug = candidate
		if err := h.register(sess); err == nil {
			return nil
		} else if !errors.Is(err, domain.ErrSlugTaken) {
			return err
		}
	}
	return errors.WithStack(domain.ErrSlugExhausted)
}

func randomSlug() (string, error) {
	adj, err := randomElement(adjectives)
	if err != nil {
		return "", err
	}
	noun, err := randomElement(nouns)
	if err != nil {
		return "", err
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", errors.Wrap(err, "generate slug numeric suffix")
	}
	return adj + "-" + noun + "-" + n.String(), nil
}

func randomElement(words []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", errors.Wrap(err, "choose slug word")
	}
	return words[n.Int64()], nil
}
