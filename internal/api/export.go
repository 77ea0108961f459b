package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/workflow"
)

// ExportFinals collects the active final values for the given products, or
// for every finalized product when no ids are given. Records are ordered by
// product id then attribute name.
func (s *Service) ExportFinals(ctx context.Context, productIDs []int64) ([]ExportRecord, error) {
	attributes, err := s.store.ListAttributes(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "api", "export finals", "load attributes", err)
	}
	attributeNames := make(map[int64]string, len(attributes))
	for _, attribute := range attributes {
		attributeNames[attribute.ID] = attribute.Name
	}

	var products []*store.Product
	if len(productIDs) == 0 {
		products, err = s.store.ListProducts(ctx, workflow.StatusFinalized)
		if err != nil {
			return nil, services.Wrap(nil, "api", "export finals", "list products", err)
		}
	} else {
		for _, productID := range productIDs {
			product, err := s.store.GetProduct(ctx, productID)
			if err != nil {
				return nil, services.Wrap(nil, "api", "export finals", "load product", err)
			}
			if product == nil {
				return nil, services.Wrap(services.ErrNotFound, "api", "export finals",
					fmt.Sprintf("product %d", productID), nil)
			}
			products = append(products, product)
		}
	}

	var records []ExportRecord
	for _, product := range products {
		finals, err := s.store.ActiveFinalsForProduct(ctx, product.ID)
		if err != nil {
			return nil, services.Wrap(nil, "api", "export finals", "load finals", err)
		}
		productRecords := make([]ExportRecord, 0, len(finals))
		for attributeID, final := range finals {
			productRecords = append(productRecords, ExportRecord{
				ProductID:   product.ID,
				ExternalSKU: product.ExternalSKU,
				ProductName: product.Name,
				Attribute:   attributeNames[attributeID],
				Value:       final.FinalValue,
				Source:      string(final.Source),
				Confidence:  final.Confidence,
				Version:     final.Version,
				DecidedAt:   formatTime(final.CreatedAt),
			})
		}
		sort.Slice(productRecords, func(i, j int) bool {
			return productRecords[i].Attribute < productRecords[j].Attribute
		})
		records = append(records, productRecords...)
	}
	return records, nil
}

// WriteExportJSON writes finals export records as indented JSON.
func WriteExportJSON(w io.Writer, records []ExportRecord) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if records == nil {
		records = []ExportRecord{}
	}
	return encoder.Encode(records)
}

// WriteExportCSV writes finals export records as CSV with a header row.
func WriteExportCSV(w io.Writer, records []ExportRecord) error {
	writer := csv.NewWriter(w)
	header := []string{"product_id", "external_sku", "product_name", "attribute", "value", "source", "confidence", "version", "decided_at"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, record := range records {
		row := []string{
			strconv.FormatInt(record.ProductID, 10),
			record.ExternalSKU,
			record.ProductName,
			record.Attribute,
			record.Value,
			record.Source,
			strconv.FormatFloat(record.Confidence, 'f', -1, 64),
			strconv.Itoa(record.Version),
			record.DecidedAt,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
