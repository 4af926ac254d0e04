// Package models defines data structures for the catalog scraper.
package models

import "time"

// Product is a catalog record extracted from a brand's listing pages.
type Product struct {
	ID          string            `json:"id"`
	BrandID     string            `json:"brand_id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Price       string            `json:"price,omitempty"`
	ImageURL    string            `json:"image_url"`
	Description string            `json:"description,omitempty"`
	URL         string            `json:"url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Details     *ProductDetails   `json:"details,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ProductDetails is the enrichment gathered from a product's own page.
type ProductDetails struct {
	SKU                 string `json:"sku,omitempty"`
	Barcode             string `json:"barcode,omitempty"`
	Handle              string `json:"handle,omitempty"`
	DetailedDescription string `json:"detailed_description,omitempty"`

	CompareAtPrice string `json:"compare_at_price,omitempty"`
	CostPerItem    string `json:"cost_per_item,omitempty"`
	ChargeTax      *bool  `json:"charge_tax,omitempty"`
	TaxCode        string `json:"tax_code,omitempty"`

	UnitPriceTotalMeasure     string `json:"unit_price_total_measure,omitempty"`
	UnitPriceTotalMeasureUnit string `json:"unit_price_total_measure_unit,omitempty"`
	UnitPriceBaseMeasure      string `json:"unit_price_base_measure,omitempty"`
	UnitPriceBaseMeasureUnit  string `json:"unit_price_base_measure_unit,omitempty"`

	InventoryQuantity             *int   `json:"inventory_quantity,omitempty"`
	ContinueSellingWhenOutOfStock bool   `json:"continue_selling_when_out_of_stock,omitempty"`
	WeightGrams                   *int   `json:"weight_grams,omitempty"`
	RequiresShipping              *bool  `json:"requires_shipping,omitempty"`
	FulfillmentService            string `json:"fulfillment_service,omitempty"`

	AdditionalImages []string `json:"additional_images,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	SEOTitle         string   `json:"seo_title,omitempty"`
	SEODescription   string   `json:"seo_description,omitempty"`

	ProductCategory     string `json:"product_category,omitempty"`
	GoogleCategory      string `json:"google_category,omitempty"`
	GoogleGender        string `json:"google_gender,omitempty"`
	GoogleAgeGroup      string `json:"google_age_group,omitempty"`
	GoogleCondition     string `json:"google_condition,omitempty"`
	GoogleCustomProduct *bool  `json:"google_custom_product,omitempty"`
	GoogleMPN           string `json:"google_mpn,omitempty"`

	Variants []ProductVariant `json:"variants,omitempty"`
}

// ProductVariant is one purchasable option combination.
type ProductVariant struct {
	SKU               string `json:"sku,omitempty"`
	Barcode           string `json:"barcode,omitempty"`
	Option1Name       string `json:"option1_name,omitempty"`
	Option1Value      string `json:"option1_value,omitempty"`
	Option2Name       string `json:"option2_name,omitempty"`
	Option2Value      string `json:"option2_value,omitempty"`
	Option3Name       string `json:"option3_name,omitempty"`
	Option3Value      string `json:"option3_value,omitempty"`
	Price             string `json:"price,omitempty"`
	CompareAtPrice    string `json:"compare_at_price,omitempty"`
	CostPerItem       string `json:"cost_per_item,omitempty"`
	InventoryQuantity *int   `json:"inventory_quantity,omitempty"`
	WeightGrams       *int   `json:"weight_grams,omitempty"`
	ImageURL          string `json:"image_url,omitempty"`
}

// Merge overlays the non-empty fields of next onto d and returns the result.
// A nil receiver yields a copy of next.
func (d *ProductDetails) Merge(next *ProductDetails) *ProductDetails {
	if next == nil {
		return d
	}
	if d == nil {
		out := *next
		return &out
	}

	out := *d
	mergeString(&out.SKU, next.SKU)
	mergeString(&out.Barcode, next.Barcode)
	mergeString(&out.Handle, next.Handle)
	mergeString(&out.DetailedDescription, next.DetailedDescription)
	mergeString(&out.CompareAtPrice, next.CompareAtPrice)
	mergeString(&out.CostPerItem, next.CostPerItem)
	mergeString(&out.TaxCode, next.TaxCode)
	mergeString(&out.UnitPriceTotalMeasure, next.UnitPriceTotalMeasure)
	mergeString(&out.UnitPriceTotalMeasureUnit, next.UnitPriceTotalMeasureUnit)
	mergeString(&out.UnitPriceBaseMeasure, next.UnitPriceBaseMeasure)
	mergeString(&out.UnitPriceBaseMeasureUnit, next.UnitPriceBaseMeasureUnit)
	mergeString(&out.FulfillmentService, next.FulfillmentService)
	mergeString(&out.SEOTitle, next.SEOTitle)
	mergeString(&out.SEODescription, next.SEODescription)
	mergeString(&out.ProductCategory, next.ProductCategory)
	mergeString(&out.GoogleCategory, next.GoogleCategory)
	mergeString(&out.GoogleGender, next.GoogleGender)
	mergeString(&out.GoogleAgeGroup, next.GoogleAgeGroup)
	mergeString(&out.GoogleCondition, next.GoogleCondition)
	mergeString(&out.GoogleMPN, next.GoogleMPN)

	if next.ChargeTax != nil {
		out.ChargeTax = next.ChargeTax
	}
	if next.InventoryQuantity != nil {
		out.InventoryQuantity = next.InventoryQuantity
	}
	if next.WeightGrams != nil {
		out.WeightGrams = next.WeightGrams
	}
	if next.RequiresShipping != nil {
		out.RequiresShipping = next.RequiresShipping
	}
	if next.GoogleCustomProduct != nil {
		out.GoogleCustomProduct = next.GoogleCustomProduct
	}
	if next.ContinueSellingWhenOutOfStock {
		out.ContinueSellingWhenOutOfStock = true
	}
	if len(next.AdditionalImages) > 0 {
		out.AdditionalImages = append([]string(nil), next.AdditionalImages...)
	}
	if len(next.Tags) > 0 {
		out.Tags = append([]string(nil), next.Tags...)
	}
	if len(next.Variants) > 0 {
		out.Variants = append([]ProductVariant(nil), next.Variants...)
	}
	return &out
}

func mergeString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// Clone returns a deep copy of the product.
func (p Product) Clone() Product {
	out := p
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	if p.Details != nil {
		d := *p.Details
		d.AdditionalImages = append([]string(nil), p.Details.AdditionalImages...)
		d.Tags = append([]string(nil), p.Details.Tags...)
		d.Variants = append([]ProductVariant(nil), p.Details.Variants...)
		out.Details = &d
	}
	return out
}
