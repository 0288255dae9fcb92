// Package domain holds the core types shared by the refresh engine:
// dataset bindings, record batches, freshness records, job errors, and
// refresh cycle bookkeeping. It has no infrastructure dependencies.
package domain

// Dataset identifies one of the five independent categories of exchange
// data tracked by the engine. The set is static; each dataset maps to one
// table and one natural key shape in the store.
type Dataset string

const (
	// DatasetIndex is the SET index summary (SET, SET50, SET100, ...).
	DatasetIndex Dataset = "set_index"
	// DatasetSectors is the per-sector constituent quote table.
	DatasetSectors Dataset = "sector_data"
	// DatasetInvestorFlow is the investor-type buy/sell/net summary.
	DatasetInvestorFlow Dataset = "investor_summary"
	// DatasetNVDR is the NVDR trading-by-stock spreadsheet.
	DatasetNVDR Dataset = "nvdr_trading"
	// DatasetShortSales is the short-sales trading-by-stock spreadsheet.
	DatasetShortSales Dataset = "short_sales_trading"
)

// AllDatasets returns every dataset in a stable order.
func AllDatasets() []Dataset {
	return []Dataset{
		DatasetIndex,
		DatasetSectors,
		DatasetInvestorFlow,
		DatasetNVDR,
		DatasetShortSales,
	}
}

// FastDatasets returns the cheap, highly time-sensitive subset refreshed by
// the interval trigger. These two are also the only datasets subject to
// retention pruning.
func FastDatasets() []Dataset {
	return []Dataset{DatasetIndex, DatasetSectors}
}

// Valid reports whether d is one of the known datasets.
func (d Dataset) Valid() bool {
	switch d {
	case DatasetIndex, DatasetSectors, DatasetInvestorFlow, DatasetNVDR, DatasetShortSales:
		return true
	}
	return false
}

// Fast reports whether d belongs to the interval-refreshed subset.
func (d Dataset) Fast() bool {
	return d == DatasetIndex || d == DatasetSectors
}

// String returns the dataset name, which doubles as its table name and its
// data_timestamps key.
func (d Dataset) String() string {
	return string(d)
}

// Description returns a human-readable label used in logs and progress events.
func (d Dataset) Description() string {
	switch d {
	case DatasetIndex:
		return "SET index summary"
	case DatasetSectors:
		return "Sector constituents"
	case DatasetInvestorFlow:
		return "Investor type trading flow"
	case DatasetNVDR:
		return "NVDR trading by stock"
	case DatasetShortSales:
		return "Short sales trading by stock"
	default:
		return string(d)
	}
}
