package chains

// Spec is the on-disk shape of the asset/route catalog, loaded from the
// routes YAML file. An empty rate means 1:1.
type Spec struct {
	FeeRate string      `yaml:"fee_rate"`
	Assets  []AssetSpec `yaml:"assets"`
	Routes  []RouteSpec `yaml:"routes"`
}

type AssetSpec struct {
	Symbol   string `yaml:"symbol"`
	Family   string `yaml:"family"`
	Decimals int32  `yaml:"decimals"`
}

type RouteSpec struct {
	Pay            string `yaml:"pay"`
	Dest           string `yaml:"dest"`
	ConversionRate string `yaml:"conversion_rate"`
}

// DefaultSpec mirrors the launch catalog: ETH and SOL funding into ETH,
// SOL or Solana USDC destinations, with a 0.1% shielding fee. USDC
// funding is deliberately absent so the pair resolves to no route.
func DefaultSpec() Spec {
	return Spec{
		FeeRate: "0.001",
		Assets: []AssetSpec{
			{Symbol: "ETH", Family: "evm", Decimals: 18},
			{Symbol: "SOL", Family: "solana", Decimals: 9},
			{Symbol: "USDC_SOL", Family: "solana", Decimals: 6},
		},
		Routes: []RouteSpec{
			{Pay: "ETH", Dest: "ETH"},
			{Pay: "ETH", Dest: "SOL"},
			{Pay: "ETH", Dest: "USDC_SOL"},
			{Pay: "SOL", Dest: "ETH"},
			{Pay: "SOL", Dest: "SOL"},
			{Pay: "SOL", Dest: "USDC_SOL"},
		},
	}
}
