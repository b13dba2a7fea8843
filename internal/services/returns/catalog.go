package returns

import (
	"strings"

	"github.com/bobmcallan/pfreturns/internal/models"
)

// Group is a named set of tickers in the default ingestion universe.
type Group struct {
	Name    string   `json:"name"`
	Tickers []string `json:"tickers"`
}

// Catalog holds the default universe and static metadata for well-known tickers.
type Catalog struct {
	groups []Group
	meta   map[string]models.AssetMetadata
}

var defaultGroups = []Group{
	{"US_LARGE_CAP", []string{"SPY", "VTI", "SPLG", "IVV", "VOO"}},
	{"US_SMALL_CAP", []string{"IWM", "VB", "VBR", "IJR"}},
	{"US_GROWTH", []string{"QQQ", "VUG", "IWF", "MGK"}},
	{"US_VALUE", []string{"VTV", "IWD", "VYM", "DVY"}},
	{"INTL_DEVELOPED", []string{"VEA", "SPDW", "EFA", "IXUS"}},
	{"INTL_EMERGING", []string{"VWO", "EEM", "IEMG", "SCHE"}},
	{"INTL_SMALL_CAP", []string{"VSS", "SCZ", "GWX"}},
	{"US_TREASURY_SHORT", []string{"BIL", "SHY", "SPTS", "VGSH"}},
	{"US_TREASURY_MEDIUM", []string{"IEF", "VGIT", "SPTI"}},
	{"US_TREASURY_LONG", []string{"TLT", "VGLT", "SPTL"}},
	{"US_CORPORATE", []string{"AGG", "BND", "VCIT", "LQD"}},
	{"US_HIGH_YIELD", []string{"HYG", "JNK", "SHYG"}},
	{"INTL_BONDS", []string{"BNDX", "BWX", "IGOV"}},
	{"REAL_ESTATE", []string{"VNQ", "IYR", "SCHH", "RWO"}},
	{"COMMODITIES", []string{"GLD", "SLV", "DJP", "PDBC"}},
	{"CRYPTO", []string{"IBIT", "BITO", "ETHE", "GBTC"}},
	{"TECHNOLOGY", []string{"XLK", "VGT", "FTEC", "IYW"}},
	{"HEALTHCARE", []string{"XLV", "VHT", "FHLC", "IYH"}},
	{"FINANCIAL", []string{"XLF", "VFH", "FXO", "IYF"}},
	{"ENERGY", []string{"XLE", "VDE", "FENY", "IYE"}},
	{"UTILITIES", []string{"XLU", "VPU", "FUTY", "IDU"}},
	{"CONSUMER", []string{"XLY", "VCR", "FDIS", "IYC"}},
	{"MOMENTUM", []string{"MTUM", "QMOM", "PDP"}},
	{"QUALITY", []string{"QUAL", "SPHQ", "JQUA"}},
	{"LOW_VOLATILITY", []string{"USMV", "SPLV", "EFAV"}},
	{"DIVIDEND", []string{"VYM", "DVY", "SCHD", "DGRO"}},
}

var defaultMetadata = []models.AssetMetadata{
	{Ticker: "SPY", Name: "SPDR S&P 500 ETF", Category: "US Large Cap", ExpenseRatio: 0.0945},
	{Ticker: "VTI", Name: "Vanguard Total Stock Market ETF", Category: "US Total Market", ExpenseRatio: 0.03},
	{Ticker: "AGG", Name: "iShares Core U.S. Aggregate Bond ETF", Category: "US Bonds", ExpenseRatio: 0.05},
	{Ticker: "VEA", Name: "Vanguard Developed Markets ETF", Category: "International Developed", ExpenseRatio: 0.05},
	{Ticker: "VWO", Name: "Vanguard Emerging Markets ETF", Category: "Emerging Markets", ExpenseRatio: 0.10},
	{Ticker: "GLD", Name: "SPDR Gold Trust", Category: "Commodities", ExpenseRatio: 0.40},
	{Ticker: "VNQ", Name: "Vanguard Real Estate ETF", Category: "Real Estate", ExpenseRatio: 0.12},
	{Ticker: "TLT", Name: "iShares 20+ Year Treasury Bond ETF", Category: "Long Treasury", ExpenseRatio: 0.15},
	{Ticker: "QQQ", Name: "Invesco QQQ Trust", Category: "US Growth", ExpenseRatio: 0.20},
	{Ticker: "IBIT", Name: "iShares Bitcoin Trust", Category: "Cryptocurrency", ExpenseRatio: 0.25},
}

// DefaultCatalog returns the built-in universe and metadata.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultGroups, defaultMetadata)
}

// NewCatalog builds a catalog from groups and metadata entries.
func NewCatalog(groups []Group, meta []models.AssetMetadata) *Catalog {
	c := &Catalog{
		groups: groups,
		meta:   make(map[string]models.AssetMetadata, len(meta)),
	}
	for _, m := range meta {
		c.meta[strings.ToUpper(m.Ticker)] = m
	}
	return c
}

// Groups returns the universe grouped by category.
func (c *Catalog) Groups() []Group {
	return c.groups
}

// Universe returns every ticker once, in group order.
func (c *Catalog) Universe() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range c.groups {
		for _, t := range g.Tickers {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Group returns the tickers of the named group.
func (c *Catalog) Group(name string) ([]string, bool) {
	for _, g := range c.groups {
		if strings.EqualFold(g.Name, name) {
			return g.Tickers, true
		}
	}
	return nil, false
}

// Metadata returns static metadata for ticker when the catalog knows it.
func (c *Catalog) Metadata(ticker string) (models.AssetMetadata, bool) {
	m, ok := c.meta[strings.ToUpper(ticker)]
	return m, ok
}
