package gamelog

import (
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyinggame/server/internal/domain"
)

func TestEnglishNarrativeGolden(t *testing.T) {
	n := English()

	lines := []string{
		n.RoomCreated("alice"),
		n.Joined("bob"),
		n.Started("alice"),
		n.Played("alice", 2, domain.Rank7),
		n.Skipped("bob"),
		n.BounceBack("alice"),
		n.LieConfirmed("bob", "alice", 3),
		n.TruthConfirmed("alice", "bob", 1),
		n.Discarded("bob", domain.RankJack),
		n.Won("bob"),
		n.Left("alice"),
		n.HostPromoted("bob"),
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "english_narrative", []byte(strings.Join(lines, "\n")+"\n"))
}

func TestRequiredEnglishLines(t *testing.T) {
	t.Parallel()

	n := English()
	assert.Equal(t, "alice created the room.", n.RoomCreated("alice"))
	assert.Equal(t, "alice started the game.", n.Started("alice"))
	assert.Equal(t, "bob skipped.", n.Skipped("bob"))
}

func TestArabicNarrator(t *testing.T) {
	t.Parallel()

	n, err := New(LanguageArabic)
	require.NoError(t, err)

	line := n.RoomCreated("سارة")
	assert.Equal(t, "سارة أنشأ الغرفة.", line)
	assert.NotEqual(t, English().Left("x"), n.Left("x"))
	assert.Contains(t, n.Discarded("x", domain.RankKing), "KING")
}

func TestParseLanguage(t *testing.T) {
	t.Parallel()

	lang, err := ParseLanguage(" AR ")
	require.NoError(t, err)
	assert.Equal(t, LanguageArabic, lang)

	lang, err = ParseLanguage("")
	require.NoError(t, err)
	assert.Equal(t, LanguageEnglish, lang)

	_, err = ParseLanguage("fr")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = New(Language("fr"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
