package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const receiptText = `Lakeside Family Dental
123 Shore Rd
Phone: 555-123-4567
Date of Service: 03/14/2026
Crown replacement
Previous visit 12/01/99
Total Due: $42.17`

func TestExtractIsDeterministic(t *testing.T) {
	conf := 91.0
	first := Extract(receiptText, &conf)
	second := Extract(receiptText, &conf)
	require.Equal(t, first, second)
}

func TestGuessAmountPrefersKeywordOverPhoneDigits(t *testing.T) {
	got := guessAmount(receiptText)
	require.True(t, got.Equal(decimal.RequireFromString("42.17")), "got %s", got)
}

func TestGuessAmountFallsBackToLargest(t *testing.T) {
	got := guessAmount("Ref 1001 shipped 2350 units in 3 crates")
	require.True(t, got.Equal(decimal.NewFromInt(2350)), "got %s", got)
}

func TestGuessAmountEmptyText(t *testing.T) {
	require.True(t, guessAmount("").IsZero())
}

func TestGuessDatePrefersKeywordedFourDigitYear(t *testing.T) {
	require.Equal(t, "2026-03-14", guessDate(receiptText))
}

func TestGuessDateExpandsTwoDigitYear(t *testing.T) {
	require.Equal(t, "2024-07-09", guessDate("paid 07/09/24 in full"))
	require.Equal(t, "1998-07-09", guessDate("paid 07/09/98 in full"))
}

func TestGuessDateMonthNames(t *testing.T) {
	require.Equal(t, "2026-03-05", guessDate("Visit date: March 5, 2026"))
	require.Equal(t, "2026-03-05", guessDate("seen on 5 Mar 2026"))
}

func TestGuessDateRejectsImpossibleCalendarValues(t *testing.T) {
	require.Equal(t, "", guessDate("ref 13/45/2026"))
}

func TestGuessTitleSkipsPageNumbersAndBareDates(t *testing.T) {
	text := "Page 1 of 2\n04/02/2026\nInvoice\nLakeside Family Dental\nmore"
	require.Equal(t, "Lakeside Family Dental", guessTitle(text))
}

func TestGuessTitleOnlyScansLeadingLines(t *testing.T) {
	text := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\nToo Late To Count"
	require.Equal(t, "", guessTitle(text))
}

func TestGuessCategory(t *testing.T) {
	require.Equal(t, "dental", guessCategory(receiptText))
	require.Equal(t, "pharmacy", guessCategory("prescription refill, dispense as written"))
	require.Equal(t, "", guessCategory("nothing recognizable here"))
}

func TestNormalizeConfidence(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{87, 0.87},
		{0.876, 0.88},
		{-3, 0},
		{250, 1},
		{1, 1},
	}
	for _, tc := range cases {
		got := NormalizeConfidence(&tc.in)
		require.NotNil(t, got)
		require.InDelta(t, tc.want, *got, 1e-9, "input %v", tc.in)
	}
	require.Nil(t, NormalizeConfidence(nil))
}
