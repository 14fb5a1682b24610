package normalize

import "regexp"

// Spanish (Mexican) spoken-form maps used to decode STT transcripts.

// digitWords maps spoken numbers that callers use digit-by-digit.
var digitWords = map[string]string{
	"cero": "0", "uno": "1", "una": "1", "un": "1", "dos": "2", "tres": "3",
	"cuatro": "4", "cinco": "5", "seis": "6", "siete": "7", "ocho": "8",
	"nueve": "9", "diez": "10", "once": "11", "doce": "12", "trece": "13",
	"catorce": "14", "quince": "15", "dieciseis": "16", "diecisiete": "17",
	"dieciocho": "18", "diecinueve": "19", "veinte": "20", "veintiuno": "21",
	"veintidos": "22", "veintitres": "23",
}

// unitValues covers 0-29, the words that stand alone below the tens.
var unitValues = map[string]int{
	"cero": 0, "uno": 1, "una": 1, "un": 1, "dos": 2, "tres": 3, "cuatro": 4,
	"cinco": 5, "seis": 6, "siete": 7, "ocho": 8, "nueve": 9,
	"diez": 10, "once": 11, "doce": 12, "trece": 13, "catorce": 14,
	"quince": 15, "dieciseis": 16, "diecisiete": 17, "dieciocho": 18,
	"diecinueve": 19, "veinte": 20, "veintiuno": 21, "veintiun": 21,
	"veintidos": 22, "veintitres": 23, "veinticuatro": 24, "veinticinco": 25,
	"veintiseis": 26, "veintisiete": 27, "veintiocho": 28, "veintinueve": 29,
}

// tensValues are the words that may be followed by "y <unit>".
var tensValues = map[string]int{
	"treinta": 30, "cuarenta": 40, "cincuenta": 50, "sesenta": 60,
	"setenta": 70, "ochenta": 80, "noventa": 90,
}

var hundredsValues = map[string]int{
	"cien": 100, "ciento": 100, "doscientos": 200, "doscientas": 200,
	"trescientos": 300, "trescientas": 300, "cuatrocientos": 400,
	"cuatrocientas": 400, "quinientos": 500, "quinientas": 500,
	"seiscientos": 600, "seiscientas": 600, "setecientos": 700,
	"setecientas": 700, "ochocientos": 800, "ochocientas": 800,
	"novecientos": 900, "novecientas": 900,
}

// letterNames maps spelled-out letter names to the letter. Names that collide
// with common words ("de", "te", "a") are left out; bare single letters pass
// through unchanged anyway.
var letterNames = map[string]string{
	"be": "B", "ce": "C", "efe": "F", "ge": "G", "hache": "H", "jota": "J",
	"ka": "K", "ele": "L", "eme": "M", "ene": "N", "pe": "P", "cu": "Q",
	"erre": "R", "ere": "R", "ese": "S", "uve": "V", "equis": "X",
	"igriega": "Y", "ye": "Y", "zeta": "Z",
}

// natoLetters maps the radio alphabet, as callers sometimes spell plates with
// it ("tango bravo 123").
var natoLetters = map[string]string{
	"alfa": "A", "alpha": "A", "bravo": "B", "charlie": "C", "delta": "D",
	"eco": "E", "echo": "E", "foxtrot": "F", "golf": "G", "hotel": "H",
	"india": "I", "julieta": "J", "juliet": "J", "kilo": "K", "lima": "L",
	"mike": "M", "noviembre": "N", "november": "N", "oscar": "O",
	"papa": "P", "quebec": "Q", "romeo": "R", "sierra": "S", "tango": "T",
	"uniforme": "U", "uniform": "U", "victor": "V", "whisky": "W",
	"whiskey": "W", "yankee": "Y", "zulu": "Z",
}

// letterPhrases are multi-token letter names.
var letterPhrases = map[string]string{
	"doble u":  "W",
	"doble ve": "W",
	"i griega": "Y",
}

// fillerPattern matches single-token interjections, including stretched
// spellings such as "esteee" or "ummm".
var fillerPattern = regexp.MustCompile(`^(?:e+s+t+e+|u+m+|mm+|e+h+|a+h+|creo|bueno|vale|osea|pues|okey|ok)$`)

var fillerPhrases = [][]string{
	{"a", "ver"},
	{"o", "sea"},
	{"este", "pues"},
}

// nameLeadIns introduce the operator's name; everything after the earliest
// lead-in is kept.
var nameLeadIns = [][]string{
	{"el", "nombre", "del", "operador", "es"},
	{"el", "nombre", "es"},
	{"mi", "nombre", "es"},
	{"me", "llamo"},
	{"soy"},
}

// plateNoise are words that frame a plate without being part of it.
var plateNoise = [][]string{
	{"las", "placas", "son"},
	{"la", "placa", "es"},
	{"placas"},
	{"placa"},
	{"son"},
	{"es"},
	{"que"},
}

var plateDash = map[string]bool{"guion": true, "raya": true, "menos": true}

// etaNoise are words that frame a time of arrival.
var etaNoise = [][]string{
	{"como", "a", "las"},
	{"alrededor", "de", "las"},
	{"alrededor", "de"},
	{"a", "las"},
	{"a", "la"},
	{"son", "las"},
	{"es", "la"},
	{"mi", "eta", "es"},
	{"la", "eta", "es"},
	{"eta"},
	{"llego"},
	{"llegada"},
	{"horas"},
	{"hrs"},
}
