package state

// Store groups every domain subject. It is constructed once by the application
// context and shared by reference; each subject has a single designated writer.
type Store struct {
	Price          *Subject[PriceJSON]
	Balance        *Subject[BalanceJSON]
	Crowdloan      *Subject[CrowdloanJSON]
	Staking        *Subject[StakingJSON]
	StakingReward  *Subject[StakingRewardJSON]
	Nft            *Subject[NftJSON]
	NftCollection  *Subject[NftCollectionJSON]
	ChainInfoMap   *Subject[ChainInfoMap]
	ChainStateMap  *Subject[ChainStateMap]
	AssetRegistry  *Subject[AssetRegistry]
	KeyringState   *Subject[KeyringState]
	Settings       *Subject[UISettings]
	Confirmations  *Subject[Confirmations]
	AuthUrls       *Subject[AuthUrls]
	CurrentAccount *Subject[CurrentAccountInfo]
	Accounts       *Subject[Accounts]
	History        *Subject[History]
}

// DefaultPrice is the price snapshot before anything was fetched or loaded.
func DefaultPrice() PriceJSON {
	return PriceJSON{
		Ready:       false,
		Currency:    "usd",
		PriceMap:    map[string]float64{},
		Price24hMap: map[string]float64{},
	}
}

// DefaultSettings are the UI preferences of a fresh install.
func DefaultSettings() UISettings {
	return UISettings{
		IsShowBalance:  true,
		AccountAllLogo: "",
		Theme:          "dark",
		Language:       "en",
	}
}

// New creates a store with empty snapshots.
func New() *Store {
	return &Store{
		Price:          NewSubject(DefaultPrice()),
		Balance:        NewSubject(BalanceJSON{Details: map[string]map[string]BalanceItem{}}),
		Crowdloan:      NewSubject(CrowdloanJSON{Details: map[string]CrowdloanItem{}}),
		Staking:        NewSubject(StakingJSON{Details: map[string]StakingItem{}}),
		StakingReward:  NewSubject(StakingRewardJSON{Details: []StakingRewardItem{}}),
		Nft:            NewSubject(NftJSON{NftList: []NftItem{}}),
		NftCollection:  NewSubject(NftCollectionJSON{NftCollectionList: []NftCollection{}}),
		ChainInfoMap:   NewSubject(ChainInfoMap{}),
		ChainStateMap:  NewSubject(ChainStateMap{}),
		AssetRegistry:  NewSubject(AssetRegistry{}),
		KeyringState:   NewSubject(KeyringState{}),
		Settings:       NewSubject(DefaultSettings()),
		Confirmations:  NewSubject(Confirmations{}),
		AuthUrls:       NewSubject(AuthUrls{}),
		CurrentAccount: NewSubject(CurrentAccountInfo{Address: AllAccountKey}),
		Accounts:       NewSubject(Accounts{}),
		History:        NewSubject(History{}),
	}
}

// NativeAsset returns the native asset of a network from the registry.
func (s *Store) NativeAsset(networkKey string) (AssetInfo, bool) {
	for _, a := range s.AssetRegistry.Get() {
		if a.OriginChain == networkKey && a.IsNative() {
			return a, true
		}
	}
	return AssetInfo{}, false
}

// FindAsset resolves a token symbol (or slug) on a network. An empty token
// selects the native asset.
func (s *Store) FindAsset(networkKey, token string) (AssetInfo, bool) {
	if token == "" {
		return s.NativeAsset(networkKey)
	}
	registry := s.AssetRegistry.Get()
	if a, ok := registry[token]; ok && a.OriginChain == networkKey {
		return a, true
	}
	for _, a := range registry {
		if a.OriginChain == networkKey && a.Symbol == token {
			return a, true
		}
	}
	return AssetInfo{}, false
}
