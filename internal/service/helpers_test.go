package service_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"collaborative-sketchpad/internal/domain"
)

func rect(id int, user string, from, to domain.Point, color string) domain.Action {
	return domain.Action{ID: id, Kind: domain.KindFilledRect, User: user, Params: domain.Params{
		InitialCoordinates: domain.PointPtr(from),
		CurrentCoordinates: domain.PointPtr(to),
		StrokeColor:        color,
	}}
}

func record(t *testing.T, rowID uint, sketchpadID uint, a domain.Action, deleted bool) domain.StrokeRecord {
	t.Helper()
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	return domain.StrokeRecord{
		ID:             rowID,
		SketchpadID:    sketchpadID,
		UserIdentifier: a.User,
		LocalStrokeID:  a.ID,
		Kind:           string(a.Kind),
		Stroke:         datatypes.JSON(raw),
		Deleted:        deleted,
	}
}
