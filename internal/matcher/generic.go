package matcher

import (
	"unicode"
	"unicode/utf8"
)

// genericWords are label words shared by many unrelated wines: grapes,
// styles, broad regions and producer boilerplate. A query made only of
// these never identifies one specific wine.
var genericWords = map[string]struct{}{
	// grapes
	"cabernet": {}, "sauvignon": {}, "franc": {}, "merlot": {}, "pinot": {}, "noir": {}, "grigio": {},
	"gris": {}, "chardonnay": {}, "syrah": {}, "shiraz": {}, "zinfandel": {}, "malbec": {}, "riesling": {},
	"tempranillo": {}, "sangiovese": {}, "grenache": {}, "garnacha": {}, "nebbiolo": {}, "moscato": {},
	"muscat": {}, "viognier": {}, "semillon": {}, "carmenere": {}, "petite": {}, "sirah": {},
	"gewurztraminer": {}, "chenin": {}, "albarino": {}, "verdejo": {}, "primitivo": {}, "montepulciano": {},
	"barbera": {}, "gamay": {}, "mourvedre": {}, "torrontes": {}, "gruner": {}, "veltliner": {},
	// styles and colors
	"red": {}, "white": {}, "rose": {}, "rosado": {}, "rosso": {}, "bianco": {}, "tinto": {}, "blanco": {},
	"blanc": {}, "rouge": {}, "sparkling": {}, "brut": {}, "sec": {}, "demi": {}, "dry": {}, "sweet": {},
	"blend": {}, "champagne": {}, "prosecco": {}, "cava": {}, "port": {}, "sherry": {},
	// broad regions
	"napa": {}, "sonoma": {}, "valley": {}, "county": {}, "coast": {}, "california": {}, "bordeaux": {},
	"burgundy": {}, "bourgogne": {}, "rioja": {}, "tuscany": {}, "toscana": {}, "chianti": {},
	"mendoza": {}, "barossa": {}, "marlborough": {}, "columbia": {}, "willamette": {}, "cotes": {},
	"rhone": {}, "alsace": {}, "mosel": {},
	// producer and label boilerplate
	"chateau": {}, "domaine": {}, "bodega": {}, "bodegas": {}, "cantina": {}, "weingut": {}, "tenuta": {},
	"estate": {}, "estates": {}, "winery": {}, "vineyard": {}, "vineyards": {}, "cellars": {}, "cellar": {},
	"reserve": {}, "reserva": {}, "riserva": {}, "gran": {}, "grand": {}, "cru": {}, "premier": {},
	"classico": {}, "superiore": {}, "vintage": {}, "wine": {}, "wines": {}, "cuvee": {}, "selection": {},
	"family": {}, "old": {}, "vine": {}, "vines": {}, "appellation": {}, "doc": {}, "docg": {}, "aoc": {},
	"the": {}, "de": {}, "du": {}, "des": {}, "la": {}, "le": {}, "les": {}, "di": {}, "del": {}, "della": {},
	"el": {}, "of": {}, "and": {}, "et": {}, "y": {},
}

// isGenericToken reports whether tok alone cannot name a wine: vocabulary
// words, single characters and numbers such as vintages.
func isGenericToken(tok string) bool {
	if utf8.RuneCountInString(tok) < 2 {
		return true
	}
	if _, ok := genericWords[tok]; ok {
		return true
	}
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
