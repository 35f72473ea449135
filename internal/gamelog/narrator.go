// Package gamelog renders the human-readable lines appended to a room's game log.
package gamelog

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/lyinggame/server/internal/domain"
)

type Language string

const (
	LanguageEnglish Language = "en"
	LanguageArabic  Language = "ar"
)

const (
	keyRoomCreated    = "%s created the room."
	keyJoined         = "%s joined the room."
	keyStarted        = "%s started the game."
	keyPlayed         = "%s played %d card(s), claiming %s."
	keyWon            = "%s has no cards left and wins the game!"
	keySkipped        = "%s skipped."
	keyBounceBack     = "Everyone skipped. The turn returns to %s for a fresh claim."
	keyLieConfirmed   = "%s called lie on %s and was right! %s takes the pile of %d card(s)."
	keyTruthConfirmed = "%s called lie on %s but the claim was true. %s takes the pile of %d card(s)."
	keyDiscarded      = "%s discarded four %s."
	keyLeft           = "%s left the room."
	keyHostPromoted   = "%s is now the host."
)

var arabic = map[string]string{
	keyRoomCreated:    "%s أنشأ الغرفة.",
	keyJoined:         "%s انضم إلى الغرفة.",
	keyStarted:        "%s بدأ اللعبة.",
	keyPlayed:         "%s لعب %d ورقة وأعلن أنها %s.",
	keyWon:            "%s لم يتبق لديه أوراق وفاز باللعبة!",
	keySkipped:        "%s تخطى دوره.",
	keyBounceBack:     "تخطى الجميع. يعود الدور إلى %s لإعلان جديد.",
	keyLieConfirmed:   "%s اتهم %s بالكذب وكان محقاً! %s يأخذ الكومة (%d ورقة).",
	keyTruthConfirmed: "%s اتهم %s بالكذب لكن الإعلان كان صادقاً. %s يأخذ الكومة (%d ورقة).",
	keyDiscarded:      "%s تخلص من أربع أوراق %s.",
	keyLeft:           "%s غادر الغرفة.",
	keyHostPromoted:   "%s أصبح المضيف الآن.",
}

// Narrator formats log lines in one language. It is safe for concurrent use.
type Narrator struct {
	printer *message.Printer
}

func ParseLanguage(value string) (Language, error) {
	switch lang := Language(strings.ToLower(strings.TrimSpace(value))); lang {
	case "", LanguageEnglish:
		return LanguageEnglish, nil
	case LanguageArabic:
		return LanguageArabic, nil
	default:
		return "", fmt.Errorf("%w: unsupported log language %q", domain.ErrInvalidArgument, value)
	}
}

func New(lang Language) (*Narrator, error) {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, key := range []string{
		keyRoomCreated, keyJoined, keyStarted, keyPlayed, keyWon, keySkipped,
		keyBounceBack, keyLieConfirmed, keyTruthConfirmed, keyDiscarded, keyLeft, keyHostPromoted,
	} {
		if err := builder.SetString(language.English, key, key); err != nil {
			return nil, fmt.Errorf("register english message: %w", err)
		}
		if err := builder.SetString(language.Arabic, key, arabic[key]); err != nil {
			return nil, fmt.Errorf("register arabic message: %w", err)
		}
	}

	var tag language.Tag
	switch lang {
	case "", LanguageEnglish:
		tag = language.English
	case LanguageArabic:
		tag = language.Arabic
	default:
		return nil, fmt.Errorf("%w: unsupported log language %q", domain.ErrInvalidArgument, lang)
	}
	return &Narrator{printer: message.NewPrinter(tag, message.Catalog(builder))}, nil
}

// English is used wherever no language was configured.
func English() *Narrator {
	n, err := New(LanguageEnglish)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Narrator) RoomCreated(username string) string {
	return n.printer.Sprintf(keyRoomCreated, username)
}

func (n *Narrator) Joined(username string) string {
	return n.printer.Sprintf(keyJoined, username)
}

func (n *Narrator) Started(host string) string {
	return n.printer.Sprintf(keyStarted, host)
}

func (n *Narrator) Played(username string, count int, declared domain.Rank) string {
	return n.printer.Sprintf(keyPlayed, username, count, string(declared))
}

func (n *Narrator) Won(username string) string {
	return n.printer.Sprintf(keyWon, username)
}

func (n *Narrator) Skipped(username string) string {
	return n.printer.Sprintf(keySkipped, username)
}

func (n *Narrator) BounceBack(username string) string {
	return n.printer.Sprintf(keyBounceBack, username)
}

// LieConfirmed narrates a successful challenge; the claimant takes the pile.
func (n *Narrator) LieConfirmed(caller, claimant string, pileSize int) string {
	return n.printer.Sprintf(keyLieConfirmed, caller, claimant, claimant, pileSize)
}

// TruthConfirmed narrates a failed challenge; the caller takes the pile.
func (n *Narrator) TruthConfirmed(caller, claimant string, pileSize int) string {
	return n.printer.Sprintf(keyTruthConfirmed, caller, claimant, caller, pileSize)
}

func (n *Narrator) Discarded(username string, rank domain.Rank) string {
	return n.printer.Sprintf(keyDiscarded, username, string(rank))
}

func (n *Narrator) Left(username string) string {
	return n.printer.Sprintf(keyLeft, username)
}

func (n *Narrator) HostPromoted(username string) string {
	return n.printer.Sprintf(keyHostPromoted, username)
}
