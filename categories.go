package main

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// baseCategory is one entry of the fixed system taxonomy. Order matters for
// stable output, so this is a slice rather than a map.
type baseCategory struct {
	Name string
	Subs []string
}

var baseCategories = []baseCategory{
	{"Vivienda", []string{
		"Alquiler / Hipoteca", "Comunidad", "IBI / Impuestos vivienda", "Electricidad",
		"Agua", "Gas", "Internet", "Teléfono", "Reparaciones", "Mantenimiento",
		"Muebles", "Electrodomésticos",
	}},
	{"Alimentación", []string{
		"Supermercado", "Frutería", "Carnicería", "Panadería", "Bebidas",
		"Productos de limpieza", "Comida preparada",
	}},
	{"Restaurantes y ocio", []string{
		"Restaurante", "Bar / Cafetería", "Comida rápida", "Delivery", "Copas",
		"Cine", "Espectáculos", "Suscripciones ocio",
	}},
	{"Transporte", []string{
		"Combustible", "Transporte público", "Taxi / VTC", "Aparcamiento", "Peajes",
		"Mantenimiento vehículo", "Seguro coche", "Multas",
	}},
	{"Salud", []string{
		"Médico", "Dentista", "Farmacia", "Seguro médico", "Gafas / Lentillas", "Terapias",
	}},
	{"Ropa y calzado", []string{"Ropa", "Calzado", "Accesorios", "Arreglos"}},
	{"Tecnología", []string{
		"Ordenador", "Móvil", "Tablet", "Accesorios", "Software / Apps", "Suscripciones digitales",
	}},
	{"Educación", []string{"Cursos", "Libros", "Material escolar", "Formación online", "Idiomas"}},
	{"Familia", []string{"Guardería", "Colegio", "Extraescolares", "Juguetes", "Material infantil"}},
	{"Mascotas", []string{"Comida mascotas", "Veterinario", "Accesorios", "Seguro mascota"}},
	{"Viajes", []string{"Transporte", "Alojamiento", "Comidas", "Actividades", "Seguro viaje"}},
	{"Finanzas", []string{"Comisiones bancarias", "Intereses", "Préstamos", "Tarjetas", "Inversiones"}},
	{"Regalos y donaciones", []string{"Regalos", "Donaciones", "Eventos"}},
	{"Impuestos y tasas", []string{"IRPF", "Tasas municipales", "Otros impuestos"}},
	{"Otros", []string{"Varios", "Imprevistos"}},
}

// listCategoriasHandler returns the base taxonomy annotated with how many of
// the user's expenses fall into each (categoria, subcategoria) pair, most used
// first. Optional ?q= filters pairs by substring, case-insensitive.
func listCategoriasHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	q := strings.ToLower(strings.TrimSpace(c.Query("q")))

	var used []struct {
		Categoria    string
		Subcategoria string
		N            int
	}
	err := db.Raw(`
		SELECT COALESCE(categoria,'') AS categoria,
		       COALESCE(concepto,'') AS subcategoria,
		       COUNT(*) AS n
		FROM gastos
		WHERE user_id = ?
		GROUP BY COALESCE(categoria,''), COALESCE(concepto,'')
	`, user.ID).Scan(&used).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	type pairKey struct{ cat, sub string }
	usedCounts := make(map[pairKey]int, len(used))
	for _, u := range used {
		cat := strings.TrimSpace(u.Categoria)
		sub := strings.TrimSpace(u.Subcategoria)
		if cat == "" || sub == "" {
			continue
		}
		usedCounts[pairKey{cat, sub}] = u.N
	}

	type entry struct {
		Categoria    string `json:"categoria"`
		Subcategoria string `json:"subcategoria"`
		N            int    `json:"n"`
	}
	out := make([]entry, 0, 96)
	for _, bc := range baseCategories {
		for _, sub := range bc.Subs {
			if q != "" {
				haystack := strings.ToLower(bc.Name + " " + sub)
				if !strings.Contains(haystack, q) {
					continue
				}
			}
			out = append(out, entry{bc.Name, sub, usedCounts[pairKey{bc.Name, sub}]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].N != out[j].N {
			return out[i].N > out[j].N
		}
		if out[i].Categoria != out[j].Categoria {
			return out[i].Categoria < out[j].Categoria
		}
		return out[i].Subcategoria < out[j].Subcategoria
	})
	c.JSON(http.StatusOK, out)
}
