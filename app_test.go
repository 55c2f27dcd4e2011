package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"gastosapp/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestApp wires the router against a fresh in-memory sqlite database so
// handler tests run without a Postgres instance.
func setupTestApp(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("test-secret")
	decimal.MarshalJSONWithoutQuotes = true

	dsn := fmt.Sprintf("file:app_%s?mode=memory&cache=shared", t.Name())
	var err error
	db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Role{}, &models.User{}, &models.Gasto{}, &models.RefreshToken{}))
	seedDB(db)

	r := gin.New()
	setupRoutes(r)
	return r
}

func performRequest(r http.Handler, method, path string, body io.Reader, token, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, r http.Handler, username string) string {
	t.Helper()
	creds, _ := json.Marshal(map[string]string{"username": username, "password": "pass1234"})
	resp := performRequest(r, http.MethodPost, "/register", bytes.NewReader(creds), "", "application/json")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = performRequest(r, http.MethodPost, "/login", bytes.NewReader(creds), "", "application/json")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var loginResp map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &loginResp))
	token, _ := loginResp["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func uploadCSV(t *testing.T, r http.Handler, token, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return performRequest(r, http.MethodPost, "/api/import/csv", &buf, token, w.FormDataContentType())
}

func decodeJSON(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

func gastoCount(t *testing.T, username string) int64 {
	t.Helper()
	var user models.User
	require.NoError(t, db.Where("username = ?", username).First(&user).Error)
	var n int64
	require.NoError(t, db.Model(&models.Gasto{}).Where("user_id = ?", user.ID).Count(&n).Error)
	return n
}

func TestImportCSVRoundTrip(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "importer")

	csvContent := []byte("date,description,amount\n" +
		"2026-01-20,Supermercado Dia,-45.50\n" +
		"2026-01-21,Gasolinera Repsol,-60.00\n" +
		"2026-01-22,Nomina Enero,1500.00\n")

	resp := uploadCSV(t, r, token, "movimientos.csv", csvContent)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decodeJSON(t, resp)
	require.Equal(t, true, body["ok"])
	require.EqualValues(t, 3, body["imported"])
	require.EqualValues(t, 0, body["skipped"])
	require.EqualValues(t, 0, body["duplicates"])
	require.EqualValues(t, 3, gastoCount(t, "importer"))

	// The description is preserved verbatim as nota and tagged csv_import.
	var g models.Gasto
	require.NoError(t, db.Where("nota = ?", "Supermercado Dia").First(&g).Error)
	require.Equal(t, "2026-01-20", g.Fecha)
	require.Equal(t, models.SourceCSVImport, g.Source)
	require.True(t, g.Importe.Equal(decimal.RequireFromString("-45.50")), "importe %s", g.Importe)
}

func TestImportCSVIdempotence(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "repeat")

	csvContent := []byte("fecha,concepto,importe\n" +
		"20/01/2026,Supermercado Dia,-45.50\n" +
		"21/01/2026,Farmacia,-12.30\n")

	resp := uploadCSV(t, r, token, "banco.csv", csvContent)
	body := decodeJSON(t, resp)
	require.EqualValues(t, 2, body["imported"])

	// Importing the identical file again inserts nothing.
	resp = uploadCSV(t, r, token, "banco.csv", csvContent)
	body = decodeJSON(t, resp)
	require.EqualValues(t, 0, body["imported"])
	require.EqualValues(t, 2, body["duplicates"])
	require.EqualValues(t, 2, gastoCount(t, "repeat"))
}

func TestImportCSVGates(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "gates")

	// No file field at all.
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.Close())
	resp := performRequest(r, http.MethodPost, "/api/import/csv", &buf, token, w.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "No file uploaded", decodeJSON(t, resp)["error"])

	// Wrong extension.
	resp = uploadCSV(t, r, token, "movimientos.txt", []byte("date,description,amount\n"))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "File must be CSV", decodeJSON(t, resp)["error"])

	// Not UTF-8.
	resp = uploadCSV(t, r, token, "latin1.csv", []byte{0xff, 0xfe, 0x41, 0x42})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "File encoding not supported. Use UTF-8.", decodeJSON(t, resp)["error"])

	require.EqualValues(t, 0, gastoCount(t, "gates"))
}

func TestImportCSVMissingAmountColumn(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "noamount")

	resp := uploadCSV(t, r, token, "sin_importe.csv",
		[]byte("date,description\n2026-01-20,Supermercado Dia\n"))
	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeJSON(t, resp)
	require.Equal(t, true, body["ok"])
	require.EqualValues(t, 0, body["imported"])
	require.Equal(t, "No valid transactions found in CSV", body["message"])
	require.EqualValues(t, 0, gastoCount(t, "noamount"))
}

func TestImportCSVSkipsBadRows(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "badrows")

	csvContent := []byte("date,description,amount\n" +
		"2026-01-20,Compra,-10.00\n" +
		"31/02/2026,Imposible,-5.00\n" +
		"2026-01-21,Mal importe,abc\n")

	resp := uploadCSV(t, r, token, "mixto.csv", csvContent)
	body := decodeJSON(t, resp)
	require.EqualValues(t, 1, body["imported"])
	require.EqualValues(t, 1, gastoCount(t, "badrows"))
}

func TestImportCSVSurvivesRowQueryErrors(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "rowfail")

	// With the gastos table gone every per-row duplicate check errors.
	// Those rows are counted as skipped and the import still responds.
	require.NoError(t, db.Migrator().DropTable(&models.Gasto{}))

	resp := uploadCSV(t, r, token, "huerfano.csv",
		[]byte("date,description,amount\n2026-01-22,Gasolinera Repsol,-40.00\n"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decodeJSON(t, resp)
	require.Equal(t, true, body["ok"])
	require.EqualValues(t, 0, body["imported"])
	require.EqualValues(t, 1, body["skipped"])
	require.EqualValues(t, 0, body["duplicates"])
}

func TestImportCSVAdoptsSuggestedCategory(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "suggested")

	// Prior manual record teaches the pairing.
	gastoBody, _ := json.Marshal(map[string]any{
		"fecha":     "2026-01-10",
		"categoria": "Alimentación",
		"concepto":  "Supermercado",
		"nota":      "Compra en Mercadona productos varios",
		"importe":   -30.00,
	})
	resp := performRequest(r, http.MethodPost, "/api/gastos", bytes.NewReader(gastoBody), token, "application/json")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = uploadCSV(t, r, token, "nuevo.csv",
		[]byte("date,description,amount\n2026-01-25,Mercadona productos,-22.10\n"))
	body := decodeJSON(t, resp)
	require.EqualValues(t, 1, body["imported"])

	var g models.Gasto
	require.NoError(t, db.Where("nota = ?", "Mercadona productos").First(&g).Error)
	require.Equal(t, "Alimentación", g.Categoria)
	require.Equal(t, "Supermercado", g.Concepto)
}

func TestImportCSVSetsOnboardingFlag(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "onboard")

	resp := performRequest(r, http.MethodGet, "/api/onboarding", nil, token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, true, decodeJSON(t, resp)["needs_onboarding"])

	uploadCSV(t, r, token, "first.csv",
		[]byte("date,description,amount\n2026-01-20,Algo,-1.00\n"))

	resp = performRequest(r, http.MethodGet, "/api/onboarding", nil, token, "")
	require.Equal(t, false, decodeJSON(t, resp)["needs_onboarding"])

	// A failed import never flips the flag back.
	uploadCSV(t, r, token, "empty.csv", []byte("date,description\n"))
	resp = performRequest(r, http.MethodGet, "/api/onboarding", nil, token, "")
	require.Equal(t, false, decodeJSON(t, resp)["needs_onboarding"])
}

func TestSugerirEndpoint(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "sugerir")

	gastoBody, _ := json.Marshal(map[string]any{
		"fecha": "2026-01-10", "categoria": "Vivienda", "concepto": "Electricidad",
		"nota": "Recibo luz enero", "importe": -55.00,
	})
	resp := performRequest(r, http.MethodPost, "/api/gastos", bytes.NewReader(gastoBody), token, "application/json")
	require.Equal(t, http.StatusOK, resp.Code)

	// Short fragment: no suggestion, empty matches, still ok.
	resp = performRequest(r, http.MethodGet, "/api/sugerir?nota=lu", nil, token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeJSON(t, resp)
	require.Equal(t, true, body["ok"])
	require.Nil(t, body["sugerencia"])
	require.Empty(t, body["matches"])

	resp = performRequest(r, http.MethodGet, "/api/sugerir?nota=luz", nil, token, "")
	body = decodeJSON(t, resp)
	sug, ok := body["sugerencia"].(map[string]any)
	require.True(t, ok, resp.Body.String())
	require.Equal(t, "Vivienda", sug["categoria"])
	require.Equal(t, "Electricidad", sug["concepto"])
	require.EqualValues(t, 1, sug["score"])
	require.Len(t, body["matches"], 1)
}

func TestSugerirNotaEndpoint(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "autocompleta")

	for i := 0; i < 2; i++ {
		gastoBody, _ := json.Marshal(map[string]any{
			"fecha": "2026-01-10", "categoria": "Restaurantes y ocio", "concepto": "Bar / Cafetería",
			"nota": "late ron", "importe": -6.50,
		})
		resp := performRequest(r, http.MethodPost, "/api/gastos", bytes.NewReader(gastoBody), token, "application/json")
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp := performRequest(r, http.MethodGet, "/api/sugerir_nota?pref=l", nil, token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeJSON(t, resp)
	matches, ok := body["matches"].([]any)
	require.True(t, ok)
	require.Len(t, matches, 1)
	m := matches[0].(map[string]any)
	require.Equal(t, "late ron", m["nota"])
	require.EqualValues(t, 2, m["n"])
	require.Equal(t, "Restaurantes y ocio", m["categoria"])

	// Empty prefix: empty matches, no error.
	resp = performRequest(r, http.MethodGet, "/api/sugerir_nota?pref=", nil, token, "")
	body = decodeJSON(t, resp)
	require.Equal(t, true, body["ok"])
	require.Empty(t, body["matches"])
}

func TestGastosCRUDAndScoping(t *testing.T) {
	r := setupTestApp(t)
	tokenA := registerAndLogin(t, r, "alice")
	tokenB := registerAndLogin(t, r, "bob")

	gastoBody, _ := json.Marshal(map[string]any{
		"fecha": "2026-02-01", "categoria": "Otros", "nota": "privado", "importe": -9.99,
	})
	resp := performRequest(r, http.MethodPost, "/api/gastos", bytes.NewReader(gastoBody), tokenA, "application/json")
	require.Equal(t, http.StatusOK, resp.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	id := int(created["id"].(float64))

	// Missing required fields.
	badBody, _ := json.Marshal(map[string]any{"fecha": "2026-02-01"})
	resp = performRequest(r, http.MethodPost, "/api/gastos", bytes.NewReader(badBody), tokenA, "application/json")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	// Bob sees nothing of Alice's.
	resp = performRequest(r, http.MethodGet, "/api/gastos", nil, tokenB, "")
	var listB []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &listB))
	require.Empty(t, listB)

	// Bob cannot delete Alice's record.
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/api/gastos/%d", id), nil, tokenB, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.EqualValues(t, 1, gastoCount(t, "alice"))

	// Alice can.
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/api/gastos/%d", id), nil, tokenA, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.EqualValues(t, 0, gastoCount(t, "alice"))
}

func TestResumenEndpoint(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "resumido")

	for _, g := range []map[string]any{
		{"fecha": "2026-03-01", "categoria": "Alimentación", "importe": -20.00},
		{"fecha": "2026-03-02", "categoria": "Alimentación", "importe": -30.00},
		{"fecha": "2026-03-03", "categoria": "Transporte", "importe": -10.00},
		{"fecha": "2026-04-01", "categoria": "Transporte", "importe": -99.00},
	} {
		body, _ := json.Marshal(g)
		resp := performRequest(r, http.MethodPost, "/api/gastos", bytes.NewReader(body), token, "application/json")
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	}

	resp := performRequest(r, http.MethodGet, "/api/resumen?mes=2026-03", nil, token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeJSON(t, resp)
	require.EqualValues(t, -60, body["total"])
	porCat, ok := body["por_categoria"].([]any)
	require.True(t, ok)
	require.Len(t, porCat, 2)
}

func TestCategoriasEndpoint(t *testing.T) {
	r := setupTestApp(t)
	token := registerAndLogin(t, r, "taxonomo")

	gastoBody, _ := json.Marshal(map[string]any{
		"fecha": "2026-01-10", "categoria": "Alimentación", "concepto": "Supermercado",
		"nota": "compra semanal", "importe": -80.00,
	})
	resp := performRequest(r, http.MethodPost, "/api/gastos", bytes.NewReader(gastoBody), token, "application/json")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = performRequest(r, http.MethodGet, "/api/categorias", nil, token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &entries))
	require.NotEmpty(t, entries)
	// Most-used pair floats to the top.
	require.Equal(t, "Alimentación", entries[0]["categoria"])
	require.Equal(t, "Supermercado", entries[0]["subcategoria"])
	require.EqualValues(t, 1, entries[0]["n"])

	resp = performRequest(r, http.MethodGet, "/api/categorias?q=farmacia", nil, token, "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "Salud", entries[0]["categoria"])
}

func TestAPIRequiresAuth(t *testing.T) {
	r := setupTestApp(t)
	for _, path := range []string{"/api/gastos", "/api/sugerir", "/api/sugerir_nota", "/api/resumen", "/api/categorias", "/api/onboarding"} {
		resp := performRequest(r, http.MethodGet, path, nil, "", "")
		require.Equal(t, http.StatusUnauthorized, resp.Code, path)
	}
	resp := performRequest(r, http.MethodPost, "/api/import/csv", nil, "", "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRefreshTokenRotation(t *testing.T) {
	r := setupTestApp(t)
	creds, _ := json.Marshal(map[string]string{"username": "rotaria", "password": "pass1234"})
	resp := performRequest(r, http.MethodPost, "/register", bytes.NewReader(creds), "", "application/json")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = performRequest(r, http.MethodPost, "/login", bytes.NewReader(creds), "", "application/json")
	loginResp := decodeJSON(t, resp)
	refresh := loginResp["refresh_token"].(string)

	body, _ := json.Marshal(map[string]string{"refresh_token": refresh})
	resp = performRequest(r, http.MethodPost, "/refresh", bytes.NewReader(body), "", "application/json")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	rotated := decodeJSON(t, resp)
	require.NotEmpty(t, rotated["token"])
	require.NotEqual(t, refresh, rotated["refresh_token"])

	// The old token was revoked by the rotation.
	resp = performRequest(r, http.MethodPost, "/refresh", bytes.NewReader(body), "", "application/json")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}
