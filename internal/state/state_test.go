package state

import (
	"sync"
	"testing"
)

func TestSubjectReadYourWrite(t *testing.T) {
	s := New()

	s.Price.Set(PriceJSON{Ready: true, Currency: "eur", PriceMap: map[string]float64{"polkadot": 5}})
	if got := s.Price.Get(); !got.Ready || got.Currency != "eur" || got.PriceMap["polkadot"] != 5 {
		t.Errorf("price read after write = %+v", got)
	}

	s.Settings.Set(UISettings{Theme: "light"})
	if got := s.Settings.Get(); got.Theme != "light" {
		t.Errorf("settings read after write = %+v", got)
	}

	s.CurrentAccount.Set(CurrentAccountInfo{Address: "0xabc"})
	if got := s.CurrentAccount.Get(); got.Address != "0xabc" {
		t.Errorf("current account read after write = %+v", got)
	}

	s.AuthUrls.Set(AuthUrls{"site": {ID: "site", IsAllowed: true}})
	if got := s.AuthUrls.Get(); !got["site"].IsAllowed {
		t.Errorf("auth urls read after write = %+v", got)
	}
}

func TestSubjectNotifiesInOrderOncePerWrite(t *testing.T) {
	subj := NewSubject(0)

	var order []string
	var firstSeen, secondSeen []int

	initial, unsubA := subj.Subscribe(func(v int) {
		order = append(order, "a")
		firstSeen = append(firstSeen, v)
	})
	defer unsubA()
	_, unsubB := subj.Subscribe(func(v int) {
		order = append(order, "b")
		secondSeen = append(secondSeen, v)
	})
	defer unsubB()

	if initial != 0 {
		t.Errorf("initial snapshot = %d, want 0", initial)
	}

	subj.Set(1)
	subj.Set(1) // same value still emits
	subj.Set(2)

	wantOrder := []string{"a", "b", "a", "b", "a", "b"}
	if len(order) != len(wantOrder) {
		t.Fatalf("got %d notifications, want %d", len(order), len(wantOrder))
	}
	for i := range wantOrder {
		if order[i] != wantOrder[i] {
			t.Fatalf("notification order = %v, want %v", order, wantOrder)
		}
	}
	for _, seen := range [][]int{firstSeen, secondSeen} {
		if len(seen) != 3 || seen[0] != 1 || seen[1] != 1 || seen[2] != 2 {
			t.Errorf("seen = %v, want [1 1 2]", seen)
		}
	}
}

func TestSubjectUnsubscribe(t *testing.T) {
	subj := NewSubject("x")

	calls := 0
	_, unsub := subj.Subscribe(func(string) { calls++ })

	subj.Set("y")
	unsub()
	unsub() // second call is harmless
	subj.Set("z")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if subj.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", subj.SubscriberCount())
	}
}

func TestSubjectUnsubscribeDuringNotification(t *testing.T) {
	subj := NewSubject(0)

	var unsubB func()
	bCalls := 0
	_, unsubA := subj.Subscribe(func(int) { unsubB() })
	defer unsubA()
	_, unsubB = subj.Subscribe(func(int) { bCalls++ })

	subj.Set(1)
	if bCalls != 0 {
		t.Errorf("subscriber removed earlier in the round was still notified")
	}
}

func TestSubjectGetInsideCallback(t *testing.T) {
	subj := NewSubject(0)

	var inside int
	_, unsub := subj.Subscribe(func(int) { inside = subj.Get() })
	defer unsub()

	subj.Set(7)
	if inside != 7 {
		t.Errorf("Get inside callback = %d, want 7", inside)
	}
}

func TestSubjectUpdate(t *testing.T) {
	subj := NewSubject(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subj.Update(func(v int) int { return v + 1 })
		}()
	}
	wg.Wait()

	if got := subj.Get(); got != 50 {
		t.Errorf("after concurrent updates got %d, want 50", got)
	}
}

func TestSubjectConcurrentWritersSeeEveryEmission(t *testing.T) {
	subj := NewSubject(0)

	var mu sync.Mutex
	count := 0
	_, unsub := subj.Subscribe(func(int) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			subj.Set(v)
		}(i)
	}
	wg.Wait()

	if count != 20 {
		t.Errorf("emissions = %d, want 20", count)
	}
}

func TestAuthUrlsClone(t *testing.T) {
	orig := AuthUrls{"a": {ID: "a", IsAllowedMap: map[string]bool{"x": true}}}
	c := orig.Clone()
	c["a"].IsAllowedMap["x"] = false

	if !orig["a"].IsAllowedMap["x"] {
		t.Error("clone shares isAllowedMap with the original")
	}
}

func TestFindAsset(t *testing.T) {
	s := New()
	s.AssetRegistry.Set(AssetRegistry{
		"polkadot-NATIVE-DOT": {Slug: "polkadot-NATIVE-DOT", OriginChain: "polkadot", Symbol: "DOT", AssetType: AssetTypeNative},
		"moonbeam-ERC20-USDC": {Slug: "moonbeam-ERC20-USDC", OriginChain: "moonbeam", Symbol: "USDC", AssetType: AssetTypeERC20},
	})

	tests := []struct {
		name    string
		network string
		token   string
		want    string
		found   bool
	}{
		{"native by empty token", "polkadot", "", "polkadot-NATIVE-DOT", true},
		{"by symbol", "moonbeam", "USDC", "moonbeam-ERC20-USDC", true},
		{"by slug", "moonbeam", "moonbeam-ERC20-USDC", "moonbeam-ERC20-USDC", true},
		{"wrong network", "polkadot", "USDC", "", false},
		{"unknown", "polkadot", "KSM", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.FindAsset(tt.network, tt.token)
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if ok && got.Slug != tt.want {
				t.Errorf("slug = %s, want %s", got.Slug, tt.want)
			}
		})
	}
}
