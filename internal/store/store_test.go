package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var builtAt = time.Date(2026, 10, 12, 3, 0, 0, 0, time.UTC)

func sample() []Region {
	return []Region{
		{Code: "110000", Level: "province", Name: "北京市", FeatureCount: 16, CodePath: "provinces/110000.geojson", NamePath: "provinces/北京市.geojson", BuiltAt: builtAt},
		{Code: "440300", Level: "city", Name: "深圳市", ProvinceCode: "440000", ProvinceName: "广东省", FeatureCount: 9,
			CodePath: "provinces/440000/440300.geojson", NamePath: "provinces/广东省/深圳市.geojson", BuiltAt: builtAt},
	}
}

func TestReplaceRegions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM _geo_regions").WillReturnResult(sqlmock.NewResult(0, 40))
	prep := mock.ExpectPrepare("INSERT INTO _geo_regions")
	for _, r := range sample() {
		prep.ExpectExec().
			WithArgs(r.Code, r.Level, r.Name, r.ProvinceCode, r.ProvinceName, r.FeatureCount, r.CodePath, r.NamePath, r.BuiltAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, AttachDB(db).ReplaceRegions(context.Background(), sample()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRegionsRollsBackOnInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM _geo_regions").WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare("INSERT INTO _geo_regions")
	prep.ExpectExec().WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = AttachDB(db).ReplaceRegions(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "province/110000")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRegions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"code", "level", "name", "province_code", "province_name", "feature_count", "code_path", "name_path", "built_at"}
	r := sample()[1]
	mock.ExpectQuery(regexp.QuoteMeta(`FROM _geo_regions WHERE level = $1 ORDER BY level, code`)).
		WithArgs("city").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(r.Code, r.Level, r.Name, r.ProvinceCode, r.ProvinceName, r.FeatureCount, r.CodePath, r.NamePath, r.BuiltAt))

	got, err := AttachDB(db).ListRegions(context.Background(), "city")
	require.NoError(t, err)
	assert.Equal(t, []Region{r}, got)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM _geo_regions ORDER BY level, code`)).
		WillReturnRows(sqlmock.NewRows(cols))
	got, err = AttachDB(db).ListRegions(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
