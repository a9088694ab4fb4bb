package state

// AllAccountKey is the pseudo-address that selects every account at once.
const AllAccountKey = "ALL"

// PriceJSON is the price feed snapshot.
type PriceJSON struct {
	Ready       bool               `json:"ready"`
	Currency    string             `json:"currency"`
	PriceMap    map[string]float64 `json:"priceMap"`
	Price24hMap map[string]float64 `json:"price24hMap"`
}

// Balance item states.
const (
	BalanceStateReady   = "READY"
	BalanceStatePending = "PENDING"
	BalanceStateError   = "ERROR"
)

// BalanceItem is the free/locked balance of one account on one network.
type BalanceItem struct {
	State     string `json:"state"`
	Free      string `json:"free"`
	Reserved  string `json:"reserved,omitempty"`
	Locked    string `json:"locked,omitempty"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// BalanceJSON maps address -> network key -> balance.
type BalanceJSON struct {
	Reset   bool                              `json:"reset,omitempty"`
	Details map[string]map[string]BalanceItem `json:"details"`
}

// CrowdloanItem is a crowdloan contribution on one network.
type CrowdloanItem struct {
	State      string `json:"state"`
	ParaState  string `json:"paraState,omitempty"`
	Contribute string `json:"contribute"`
}

// CrowdloanJSON maps network key -> contribution.
type CrowdloanJSON struct {
	Reset   bool                     `json:"reset,omitempty"`
	Details map[string]CrowdloanItem `json:"details"`
}

// StakingItem is a staking position on one network.
type StakingItem struct {
	Name        string `json:"name"`
	Chain       string `json:"chain"`
	Address     string `json:"address"`
	Balance     string `json:"balance"`
	ActiveStake string `json:"activeBalance,omitempty"`
	Unlocking   string `json:"unlockingBalance,omitempty"`
	NativeToken string `json:"nativeToken"`
	State       string `json:"state"`
}

// StakingJSON maps network key -> position.
type StakingJSON struct {
	Ready   bool                   `json:"ready"`
	Reset   bool                   `json:"reset,omitempty"`
	Details map[string]StakingItem `json:"details"`
}

// StakingRewardItem is the accrued reward for one address on one network.
type StakingRewardItem struct {
	Chain        string `json:"chain"`
	Address      string `json:"address"`
	TotalReward  string `json:"totalReward"`
	LatestReward string `json:"latestReward,omitempty"`
	TotalSlash   string `json:"totalSlash,omitempty"`
	State        string `json:"state"`
}

// StakingRewardJSON lists reward items.
type StakingRewardJSON struct {
	Ready   bool                `json:"ready"`
	Details []StakingRewardItem `json:"details"`
}

// NftItem is a single NFT owned by a local account.
type NftItem struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name,omitempty"`
	Image        string                 `json:"image,omitempty"`
	Description  string                 `json:"description,omitempty"`
	CollectionID string                 `json:"collectionId"`
	Chain        string                 `json:"chain"`
	Owner        string                 `json:"owner"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
}

// NftJSON lists owned NFTs.
type NftJSON struct {
	Total   int       `json:"total"`
	NftList []NftItem `json:"nftList"`
}

// NftCollection is a collection header.
type NftCollection struct {
	CollectionID   string `json:"collectionId"`
	CollectionName string `json:"collectionName,omitempty"`
	Image          string `json:"image,omitempty"`
	Chain          string `json:"chain"`
	ItemCount      int    `json:"itemCount"`
}

// NftCollectionJSON lists NFT collections.
type NftCollectionJSON struct {
	Ready             bool            `json:"ready"`
	NftCollectionList []NftCollection `json:"nftCollectionList"`
}

// ChainInfo is the static description of a network.
type ChainInfo struct {
	Slug               string `json:"slug"`
	Name               string `json:"name"`
	ChainType          string `json:"chainType"`
	NativeSymbol       string `json:"symbol"`
	Decimals           uint8  `json:"decimals"`
	ExistentialDeposit string `json:"existentialDeposit"`
	GenesisHash        string `json:"genesisHash,omitempty"`
	ChainID            uint64 `json:"evmChainId,omitempty"`
	SS58Prefix         uint16 `json:"addressPrefix"`
}

// ChainInfoMap maps network key -> chain info.
type ChainInfoMap map[string]ChainInfo

// Connection statuses reported in ChainState.
const (
	ConnectionConnected    = "CONNECTED"
	ConnectionDisconnected = "DISCONNECTED"
	ConnectionUnsupported  = "UNSUPPORTED"
)

// ChainState is the live status of a network.
type ChainState struct {
	Slug             string `json:"slug"`
	Active           bool   `json:"active"`
	ConnectionStatus string `json:"connectionStatus"`
	CurrentProvider  string `json:"currentProvider,omitempty"`
}

// ChainStateMap maps network key -> chain state.
type ChainStateMap map[string]ChainState

// Asset types.
const (
	AssetTypeNative = "NATIVE"
	AssetTypeERC20  = "ERC20"
	AssetTypeLocal  = "LOCAL"
)

// AssetInfo describes a token known to the wallet.
type AssetInfo struct {
	Slug        string `json:"slug"`
	OriginChain string `json:"originChain"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	AssetType   string `json:"assetType"`
	Contract    string `json:"contractAddress,omitempty"`
	PriceID     string `json:"priceId,omitempty"`
	MinAmount   string `json:"minAmount,omitempty"`
}

// IsNative reports whether the asset is its chain's native token.
func (a AssetInfo) IsNative() bool {
	return a.AssetType == AssetTypeNative
}

// AssetRegistry maps asset slug -> asset info.
type AssetRegistry map[string]AssetInfo

// KeyringState reports keyring availability.
type KeyringState struct {
	IsReady      bool `json:"isReady"`
	IsLocked     bool `json:"isLocked"`
	AccountCount int  `json:"accountCount"`
}

// UISettings holds user preferences.
type UISettings struct {
	IsShowBalance  bool   `json:"isShowBalance"`
	AccountAllLogo string `json:"accountAllLogo"`
	Theme          string `json:"theme"`
	Language       string `json:"language"`
}

// ExternalRequestView is the serializable part of a pending external signature
// request. It never carries the resolve/reject targets.
type ExternalRequestView struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Address    string `json:"address,omitempty"`
	NetworkKey string `json:"networkKey,omitempty"`
	Payload    string `json:"payload,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

// Confirmations maps external request id -> view.
type Confirmations map[string]ExternalRequestView

// AuthURLInfo is the authorization record of one site.
type AuthURLInfo struct {
	ID           string          `json:"id"`
	Origin       string          `json:"origin"`
	URL          string          `json:"url"`
	IsAllowed    bool            `json:"isAllowed"`
	IsAllowedMap map[string]bool `json:"isAllowedMap"`
}

// AuthUrls maps site id -> authorization record.
type AuthUrls map[string]AuthURLInfo

// Clone returns a deep copy so writers never mutate a published snapshot.
func (a AuthUrls) Clone() AuthUrls {
	out := make(AuthUrls, len(a))
	for k, v := range a {
		m := make(map[string]bool, len(v.IsAllowedMap))
		for addr, ok := range v.IsAllowedMap {
			m[addr] = ok
		}
		v.IsAllowedMap = m
		out[k] = v
	}
	return out
}

// CurrentAccountInfo selects the active account.
type CurrentAccountInfo struct {
	Address            string  `json:"address"`
	CurrentGenesisHash *string `json:"currentGenesisHash"`
	AllGenesisHash     *string `json:"allGenesisHash,omitempty"`
}

// AccountJSON is the public view of a keyring account.
type AccountJSON struct {
	Address     string `json:"address"`
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	GenesisHash string `json:"genesisHash,omitempty"`
	IsExternal  bool   `json:"isExternal,omitempty"`
	IsHardware  bool   `json:"isHardware,omitempty"`
	WhenCreated int64  `json:"whenCreated"`
}

// Accounts maps address -> account.
type Accounts map[string]AccountJSON

// HistoryItem is a transaction history entry as streamed to the UI.
type HistoryItem struct {
	Time          int64  `json:"time"`
	NetworkKey    string `json:"networkKey"`
	Change        string `json:"change"`
	ChangeSymbol  string `json:"changeSymbol,omitempty"`
	Fee           string `json:"fee,omitempty"`
	FeeSymbol     string `json:"feeSymbol,omitempty"`
	IsSuccess     bool   `json:"isSuccess"`
	ExtrinsicHash string `json:"extrinsicHash"`
	Action        string `json:"action"`
}

// History maps address -> entries, newest first.
type History map[string][]HistoryItem
