package poly

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

func dec(s string) adapter.FixedDecimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestLadder_BidBestIsHighest(t *testing.T) {
	l := NewLadder(adapter.Bid)
	l.Put(dec("0.40"), dec("10"))
	l.Put(dec("0.55"), dec("20"))
	l.Put(dec("0.48"), dec("5"))

	best, ok := l.Best()
	if !ok {
		t.Fatal("expected a best level")
	}
	if !best.Price.Equal(dec("0.55")) {
		t.Fatalf("expected best bid 0.55, got %s", best.Price)
	}
}

func TestLadder_AskBestIsLowest(t *testing.T) {
	l := NewLadder(adapter.Ask)
	l.Put(dec("0.60"), dec("10"))
	l.Put(dec("0.52"), dec("20"))
	l.Put(dec("0.58"), dec("5"))

	best, ok := l.Best()
	if !ok {
		t.Fatal("expected a best level")
	}
	if !best.Price.Equal(dec("0.52")) {
		t.Fatalf("expected best ask 0.52, got %s", best.Price)
	}
}

func TestLadder_PutZeroSizeDeletes(t *testing.T) {
	l := NewLadder(adapter.Bid)
	l.Put(dec("0.5"), dec("10"))
	if l.Len() != 1 {
		t.Fatalf("expected 1 level, got %d", l.Len())
	}
	l.Put(dec("0.5"), dec("0"))
	if l.Len() != 0 {
		t.Fatalf("expected level removed on size 0, got %d", l.Len())
	}
}

func TestLadder_ReplaceDedupesLastWins(t *testing.T) {
	l := NewLadder(adapter.Bid)
	l.Replace([]adapter.PriceLevel{
		{Price: dec("0.5"), Size: dec("10")},
		{Price: dec("0.5"), Size: dec("25")}, // duplicate price, second wins
	})
	size, ok := l.Get(dec("0.5"))
	if !ok {
		t.Fatal("expected level to exist")
	}
	if !size.Equal(dec("25")) {
		t.Fatalf("expected second occurrence (25) to win, got %s", size)
	}
}

func TestLadder_LevelsInBestFirstOrder(t *testing.T) {
	l := NewLadder(adapter.Ask)
	l.Put(dec("0.60"), dec("1"))
	l.Put(dec("0.55"), dec("1"))
	l.Put(dec("0.58"), dec("1"))

	levels := l.Levels()
	want := []string{"0.55", "0.58", "0.6"}
	if len(levels) != len(want) {
		t.Fatalf("expected %d levels, got %d", len(want), len(levels))
	}
	for i, w := range want {
		if levels[i].Price.String() != w {
			t.Fatalf("level %d: expected %s, got %s", i, w, levels[i].Price)
		}
	}
}
