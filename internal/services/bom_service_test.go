package services

import (
	"context"
	"testing"

	"example.com/logistics/services/fulfillment/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func (f *fixture) bomLine(t *testing.T, parent, child models.Item, quantityPer int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.BOMLine{
		ID:             uuid.New(),
		OrganizationID: f.org.ID,
		ParentItemID:   parent.ID,
		ChildItemID:    child.ID,
		QuantityPer:    quantityPer,
	}).Error)
}

func TestExplodeMultiLevel(t *testing.T) {
	f := newFixture(t)

	// bike -> 2 wheels, wheel -> 5 spokes
	bike := f.createItem(t, "BIKE", models.ItemTypeMake)
	wheel := f.createItem(t, "WHEEL", models.ItemTypeMake)
	spoke := f.createItem(t, "SPOKE", models.ItemTypeBuy)
	f.bomLine(t, bike, wheel, 2)
	f.bomLine(t, wheel, spoke, 5)

	requirements, err := f.bom.Explode(context.Background(), bike.ID, 3)
	require.NoError(t, err)

	require.Len(t, requirements, 2)
	require.Equal(t, int64(6), requirements[wheel.ID])
	require.Equal(t, int64(30), requirements[spoke.ID])
}

func TestExplodeSharedComponent(t *testing.T) {
	f := newFixture(t)

	// Both sub-assemblies use the same screw; quantities must accumulate.
	parent := f.createItem(t, "PARENT", models.ItemTypeMake)
	subA := f.createItem(t, "SUB-A", models.ItemTypeMake)
	subB := f.createItem(t, "SUB-B", models.ItemTypeMake)
	screw := f.createItem(t, "SCREW", models.ItemTypeBuy)
	f.bomLine(t, parent, subA, 1)
	f.bomLine(t, parent, subB, 1)
	f.bomLine(t, subA, screw, 4)
	f.bomLine(t, subB, screw, 2)

	requirements, err := f.bom.Explode(context.Background(), parent.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(6), requirements[screw.ID])
}

func TestExplodeLeafItem(t *testing.T) {
	f := newFixture(t)
	leaf := f.createItem(t, "LEAF", models.ItemTypeBuy)

	requirements, err := f.bom.Explode(context.Background(), leaf.ID, 10)
	require.NoError(t, err)
	require.Empty(t, requirements)
}

func TestExplodeDetectsCycle(t *testing.T) {
	f := newFixture(t)

	a := f.createItem(t, "A", models.ItemTypeMake)
	b := f.createItem(t, "B", models.ItemTypeMake)
	f.bomLine(t, a, b, 1)
	f.bomLine(t, b, a, 1)

	_, err := f.bom.Explode(context.Background(), a.ID, 1)
	require.True(t, errors.Is(err, ErrCyclicBOM))
}

func TestExplodeRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeMake)

	_, err := f.bom.Explode(context.Background(), item.ID, 0)
	require.True(t, errors.Is(err, ErrInvalidQuantity))
}
