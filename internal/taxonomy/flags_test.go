package taxonomy_test

import (
	"context"
	"errors"
	"testing"

	"facet/internal/services"
	"facet/internal/store"
	"facet/internal/taxonomy"
	"facet/internal/testsupport"
)

func TestRequestValueValidatesVocabulary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	resolver := taxonomy.NewResolver(st)

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	annotator := testsupport.NewAnnotator(t, st, "casey")
	closed := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")
	open := testsupport.NewAttribute(t, st, "notes", "text")

	_, err := resolver.RequestValue(ctx, taxonomy.FlagRequest{
		ProductID: product.ID, AttributeID: open.ID, AnnotatorID: annotator.ID, RequestedValue: "anything",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("free-form attributes must reject flags, got %v", err)
	}

	_, err = resolver.RequestValue(ctx, taxonomy.FlagRequest{
		ProductID: product.ID, AttributeID: closed.ID, AnnotatorID: annotator.ID, RequestedValue: "Red",
	})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("already-allowed values must conflict, got %v", err)
	}

	flag, err := resolver.RequestValue(ctx, taxonomy.FlagRequest{
		ProductID: product.ID, AttributeID: closed.ID, AnnotatorID: annotator.ID,
		RequestedValue: "Teal", Reason: "product photo shows teal",
	})
	if err != nil {
		t.Fatalf("RequestValue: %v", err)
	}
	if flag.Status != store.FlagPending || flag.RequestedValue != "Teal" {
		t.Fatalf("flag = %+v", flag)
	}
}

func TestReviewFlagApprovalExtendsVocabulary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	resolver := taxonomy.NewResolver(st)

	product := testsupport.NewProduct(t, st, "Jacket", "apparel", "")
	annotator := testsupport.NewAnnotator(t, st, "casey")
	admin := testsupport.NewAnnotator(t, st, "admin")
	attribute := testsupport.NewAttribute(t, st, "color", "categorical", "Red", "Blue")

	flag, err := resolver.RequestValue(ctx, taxonomy.FlagRequest{
		ProductID: product.ID, AttributeID: attribute.ID, AnnotatorID: annotator.ID, RequestedValue: "Teal",
	})
	if err != nil {
		t.Fatalf("RequestValue: %v", err)
	}

	reviewed, err := resolver.ReviewFlag(ctx, flag.ID, true, &admin.ID, "confirmed")
	if err != nil {
		t.Fatalf("ReviewFlag: %v", err)
	}
	if reviewed.Status != store.FlagApproved || reviewed.ReviewedBy == nil || *reviewed.ReviewedBy != admin.ID {
		t.Fatalf("reviewed flag = %+v", reviewed)
	}

	reloaded, _ := st.GetAttribute(ctx, attribute.ID)
	values := reloaded.AllowedValues()
	if len(values) != 3 || values[2] != "Teal" {
		t.Fatalf("vocabulary after approval = %v", values)
	}

	// A resolved flag cannot be reviewed twice.
	_, err = resolver.ReviewFlag(ctx, flag.ID, false, &admin.ID, "")
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on second review, got %v", err)
	}
}
