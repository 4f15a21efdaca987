package alerts

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/storage/models"
)

const (
	imbalanceSurplusAbove  = 50.0
	imbalanceShortageBelow = 10.0
	imbalanceMinRatio      = 3.0
	imbalanceConfidence    = 0.85
)

// ImbalanceDetector compares one product's quantity across the sites of an
// agency and suggests a transfer from the fullest site to the emptiest.
type ImbalanceDetector struct {
	source inventory.Repository
}

func NewImbalanceDetector(source inventory.Repository) *ImbalanceDetector {
	return &ImbalanceDetector{source: source}
}

func (d *ImbalanceDetector) Name() string { return "imbalance" }

func (d *ImbalanceDetector) Detect(ctx context.Context, scope models.Scope) ([]models.Alert, error) {
	// Only an agency-wide scope spans several sites.
	if scope.AgencyID == "" || scope.SiteID != "" {
		return nil, nil
	}

	rows, err := d.source.ListProductsBySite(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock by site: %w", err)
	}

	sites := make(map[string]struct{})
	bySKU := make(map[string][]models.SiteStock)
	var skus []string
	for _, r := range rows {
		sites[r.SiteID] = struct{}{}
		if _, ok := bySKU[r.SKU]; !ok {
			skus = append(skus, r.SKU)
		}
		bySKU[r.SKU] = append(bySKU[r.SKU], r)
	}
	if len(sites) < 2 {
		return nil, nil
	}
	sort.Strings(skus)

	var out []models.Alert
	for _, sku := range skus {
		group := bySKU[sku]
		if len(group) < 2 {
			continue
		}

		hi, lo := group[0], group[0]
		for _, r := range group[1:] {
			if r.AvailableQty > hi.AvailableQty {
				hi = r
			}
			if r.AvailableQty < lo.AvailableQty {
				lo = r
			}
		}

		if hi.AvailableQty <= imbalanceSurplusAbove || lo.AvailableQty >= imbalanceShortageBelow {
			continue
		}
		// A site with nothing left is always below the ratio floor.
		if lo.AvailableQty > 0 && hi.AvailableQty/lo.AvailableQty <= imbalanceMinRatio {
			continue
		}

		transfer := math.Floor((hi.AvailableQty - lo.AvailableQty) / 2)

		ids := make([]string, 0, len(group))
		for _, r := range group {
			ids = append(ids, r.ProductID)
		}

		a := candidate(scope, models.AlertStockImbalance, sku)
		a.Severity = models.SeverityHigh
		a.Title = fmt.Sprintf("%s is unevenly stocked across sites", hi.ProductName)
		a.Description = fmt.Sprintf("%s holds %.0f units while %s holds %.0f.",
			hi.SiteName, hi.AvailableQty, lo.SiteName, lo.AvailableQty)
		a.FinancialImpact = transfer * hi.SellingPrice
		a.AffectedEntityIDs = ids
		a.SuggestedAction = fmt.Sprintf("Transfer %.0f units from %s to %s.", transfer, hi.SiteName, lo.SiteName)
		a.Confidence = floatPtr(imbalanceConfidence)
		a.QuickAction = &models.QuickAction{
			Label:   "Create stock transfer",
			Command: "stock_transfer.create",
			Params: map[string]interface{}{
				"sku":          sku,
				"from_site_id": hi.SiteID,
				"to_site_id":   lo.SiteID,
				"quantity":     transfer,
			},
		}

		out = append(out, a)
	}
	return out, nil
}
