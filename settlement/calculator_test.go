package settlement

import (
	"errors"
	"testing"

	"escrowflow/ledger"
)

func snap() Snapshot {
	return Snapshot{
		ListingID:   "listing-1",
		Seller:      "seller-1",
		Buyer:       "buyer-1",
		Price:       1000,
		SellerStake: Stake(1000),
	}
}

func TestPlanSuccessfulDeal(t *testing.T) {
	s := snap()
	transfers, err := Plan(s, SuccessfulDeal)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if got, want := Total(transfers), s.Price+s.SellerStake; got != want {
		t.Fatalf("plan total = %d, want custody balance %d", got, want)
	}

	var sellerTotal, platformTotal int64
	for _, tr := range transfers {
		switch tr.Credit {
		case s.Seller:
			sellerTotal += tr.Amount
		case ledger.PlatformAccount:
			platformTotal += tr.Amount
		default:
			t.Fatalf("unexpected credit account %q", tr.Credit)
		}
	}

	// 1000 - 20 fee + 100 stake back
	if sellerTotal != 1080 {
		t.Errorf("seller receives %d, want 1080", sellerTotal)
	}
	if platformTotal != 20 {
		t.Errorf("platform receives %d, want 20", platformTotal)
	}
}

func TestPlanBuyerBacksOut(t *testing.T) {
	s := snap()
	transfers, err := Plan(s, BuyerBacksOut)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if got, want := Total(transfers), s.Price+s.SellerStake; got != want {
		t.Fatalf("plan total = %d, want %d", got, want)
	}

	var buyerTotal, sellerTotal int64
	for _, tr := range transfers {
		switch tr.Credit {
		case s.Buyer:
			buyerTotal += tr.Amount
		case s.Seller:
			sellerTotal += tr.Amount
		}
	}
	if buyerTotal != 750 {
		t.Errorf("buyer refund %d, want 750", buyerTotal)
	}
	if sellerTotal != 350 {
		t.Errorf("seller receives %d, want 350 (250 compensation + 100 stake)", sellerTotal)
	}
}

func TestPlanSellerScam(t *testing.T) {
	s := snap()
	transfers, err := Plan(s, SellerScam)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	var buyerTotal int64
	for _, tr := range transfers {
		if tr.Credit != s.Buyer {
			t.Fatalf("scam settlement credits %q, want only the buyer", tr.Credit)
		}
		buyerTotal += tr.Amount
	}
	if buyerTotal != 1100 {
		t.Errorf("buyer receives %d, want 1100 (price + forfeited stake)", buyerTotal)
	}
}

func TestPlanCancelled(t *testing.T) {
	s := snap()
	s.Buyer = ""
	transfers, err := Plan(s, Cancelled)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(transfers) != 1 || transfers[0].Credit != s.Seller || transfers[0].Amount != s.SellerStake {
		t.Fatalf("cancel plan = %+v, want single stake return to seller", transfers)
	}
}

func TestPlanBuyerRequired(t *testing.T) {
	s := snap()
	s.Buyer = ""
	for _, outcome := range []Outcome{SuccessfulDeal, BuyerBacksOut, SellerScam} {
		if _, err := Plan(s, outcome); !errors.Is(err, ErrBuyerRequired) {
			t.Errorf("%v without buyer: err = %v, want ErrBuyerRequired", outcome, err)
		}
	}
}

func TestPlanUnknownOutcome(t *testing.T) {
	if _, err := Plan(snap(), Outcome(99)); err == nil {
		t.Fatal("expected error for unknown outcome")
	}
}

func TestPlanConservesOddPrices(t *testing.T) {
	// Integer division on stake/fee/refund must never leak value.
	for _, price := range []int64{1, 3, 7, 99, 101, 999, 12345, 1_000_001} {
		s := Snapshot{Seller: "s", Buyer: "b", Price: price, SellerStake: Stake(price)}
		for _, outcome := range []Outcome{SuccessfulDeal, BuyerBacksOut, SellerScam} {
			transfers, err := Plan(s, outcome)
			if err != nil {
				t.Fatalf("plan price=%d outcome=%v: %v", price, outcome, err)
			}
			if got, want := Total(transfers), price+s.SellerStake; got != want {
				t.Errorf("price=%d outcome=%v: total %d, want %d", price, outcome, got, want)
			}
		}
		transfers, err := Plan(s, Cancelled)
		if err != nil {
			t.Fatalf("plan price=%d cancelled: %v", price, err)
		}
		if got := Total(transfers); got != s.SellerStake {
			t.Errorf("price=%d cancelled: total %d, want %d", price, got, s.SellerStake)
		}
	}
}
