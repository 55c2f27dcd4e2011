package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"gastosapp/models"
	"gastosapp/pkg/suggest"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

func setupRoutes(r *gin.Engine) {
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)
	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	api := authGroup.Group("/api")
	api.GET("/gastos", listGastosHandler)
	api.POST("/gastos", createGastoHandler)
	api.DELETE("/gastos/:id", deleteGastoHandler)
	api.GET("/resumen", resumenHandler)
	api.GET("/categorias", listCategoriasHandler)
	api.GET("/sugerir", sugerirHandler)
	api.GET("/sugerir_nota", sugerirNotaHandler)
	api.POST("/import/csv", importCSVHandler)
	api.GET("/onboarding", onboardingHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		uid, _ := claims["user_id"].(float64)
		if uid <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		c.Set("user_id", uint(uid))
		if username, _ := claims["username"].(string); username != "" {
			c.Set("username", username)
		}
		c.Next()
	}
}

// getUserFromContext fetches the currently authenticated user using the id set by jwtAuthMiddleware
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	idVal, _ := c.Get("user_id")
	uid, ok := idVal.(uint)
	if !ok || uid == 0 {
		return nil, false
	}
	var user models.User
	if err := db.First(&user, uid).Error; err != nil {
		return nil, false
	}
	return &user, true
}

func meHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": user.Username, "needs_onboarding": !user.HasImportedCSV})
}

// listGastosHandler lists the user's expenses, newest first, with optional
// month (YYYY-MM), category and note-contains filters.
func listGastosHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	q := db.Model(&models.Gasto{}).Where("user_id = ?", user.ID)
	if mes := strings.TrimSpace(c.Query("mes")); mes != "" {
		q = q.Where("substr(fecha, 1, 7) = ?", mes)
	}
	if cat := strings.TrimSpace(c.Query("categoria")); cat != "" {
		q = q.Where("categoria = ?", cat)
	}
	if frag := strings.TrimSpace(c.Query("q")); frag != "" {
		q = q.Where(`COALESCE(nota,'') LIKE ? ESCAPE '\'`, "%"+suggest.EscapeLike(frag)+"%")
	}
	var items []models.Gasto
	if err := q.Order("fecha desc, id desc").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func createGastoHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Fecha     string           `json:"fecha"`
		Categoria string           `json:"categoria"`
		Concepto  string           `json:"concepto"`
		Nota      string           `json:"nota"`
		Importe   *decimal.Decimal `json:"importe"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "importe debe ser numérico"})
		return
	}
	fecha := strings.TrimSpace(req.Fecha)
	categoria := strings.TrimSpace(req.Categoria)
	if fecha == "" || categoria == "" || req.Importe == nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Faltan campos: fecha, categoria, importe"})
		return
	}
	g := models.Gasto{
		UserID:    user.ID,
		Fecha:     fecha,
		Categoria: categoria,
		Concepto:  strings.TrimSpace(req.Concepto),
		Nota:      strings.TrimSpace(req.Nota),
		Importe:   *req.Importe,
		Source:    models.SourceManual,
	}
	if err := db.Create(&g).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "create failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": g.ID})
}

func deleteGastoHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	// owner-scoped: deleting someone else's record is a silent no-op
	if err := db.Where("id = ? AND user_id = ?", c.Param("id"), user.ID).Delete(&models.Gasto{}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// resumenHandler returns the user's total plus per-category totals, optionally
// restricted to a month (YYYY-MM).
func resumenHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	mes := strings.TrimSpace(c.Query("mes"))

	whereMes := ""
	params := []interface{}{user.ID}
	if mes != "" {
		whereMes = " AND substr(fecha, 1, 7) = ?"
		params = append(params, mes)
	}

	type catTotal struct {
		Categoria string          `json:"categoria"`
		Total     decimal.Decimal `json:"total"`
	}
	var porCategoria []catTotal
	err := db.Raw(
		"SELECT categoria, ROUND(SUM(importe), 2) AS total FROM gastos WHERE user_id = ?"+whereMes+
			" GROUP BY categoria ORDER BY total DESC", params...).Scan(&porCategoria).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	var totalRow struct{ Total decimal.Decimal }
	err = db.Raw(
		"SELECT ROUND(COALESCE(SUM(importe), 0), 2) AS total FROM gastos WHERE user_id = ?"+whereMes,
		params...).Scan(&totalRow).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if porCategoria == nil {
		porCategoria = []catTotal{}
	}
	c.JSON(http.StatusOK, gin.H{"total": totalRow.Total, "por_categoria": porCategoria})
}

// sugerirHandler suggests categoria+concepto from a note fragment (contains-match).
func sugerirHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	pairings, err := suggest.New(db).ForNote(user.ID, c.Query("nota"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "query failed"})
		return
	}
	matches := make([]gin.H, 0, len(pairings))
	for _, p := range pairings {
		matches = append(matches, gin.H{"categoria": p.Categoria, "concepto": p.Concepto, "n": p.N})
	}
	var sugerencia gin.H
	if len(pairings) > 0 {
		sugerencia = gin.H{
			"categoria": pairings[0].Categoria,
			"concepto":  pairings[0].Concepto,
			"score":     pairings[0].N,
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "sugerencia": sugerencia, "matches": matches})
}

// sugerirNotaHandler autocompletes notes by prefix.
func sugerirNotaHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	completions, err := suggest.New(db).NoteCompletions(user.ID, c.Query("pref"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "query failed"})
		return
	}
	if completions == nil {
		completions = []suggest.NoteCompletion{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "matches": completions})
}

// onboardingHandler reports whether the user still needs the first-import onboarding.
func onboardingHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "needs_onboarding": !user.HasImportedCSV})
}

func registerHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := RegisterUser(db, req.Username, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully"})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Authenticate(db, req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tokenString, err := signAccessToken(user, time.Hour*24)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tokenString, "refresh_token": refreshToken})
}

func signAccessToken(user models.User, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(jwtSecret)
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash with expiry and returns the raw token string
func createAndStoreRefreshToken(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	rt := models.RefreshToken{UserID: userID, TokenHash: th, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	if err := db.Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

// helper to find refresh token record by raw token string
func findRefreshTokenByRaw(token string) (*models.RefreshToken, error) {
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	var rt models.RefreshToken
	if err := db.Where("token_hash = ?", th).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	tokenString, err := signAccessToken(user, 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate refresh token: revoke existing and create new one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}
