package extract

import (
	"strings"

	"voice-intake/internal/domain"
)

// The inference prompts are few-shot instructions in the callers' language.
// Each ends with the candidate text and expects the bare value back.

func platePrompt(candidate string) string {
	return strings.Join([]string{
		"Detecta y devuelve únicamente la placa vehicular mencionada por el usuario en formato LETRAS-NÚMEROS (por ejemplo ABC-1234 o XY-123).",
		"- Ignora muletillas como \"esteee\", \"umm\", \"creo\".",
		"- Convierte números en texto a dígitos (\"cuatro cinco seis\" -> 456).",
		"- Normaliza el formato (\"A B C guion 1 2 3 4\" -> ABC-1234).",
		"- Si no hay una placa clara, devuelve una cadena vacía.",
		"",
		"Ejemplos:",
		"- Entrada: \"ABC1234\" -> Salida: ABC-1234",
		"- Entrada: \"ABC-1234\" -> Salida: ABC-1234",
		"- Entrada: \"D-E-F4567\" -> Salida: DEF-4567",
		"- Entrada: \"ZAC 4561\" -> Salida: ZAC-4561",
		"- Entrada: \"TB123\" -> Salida: TB-123",
		"- Entrada: \"HOLACOMOESTAS\" -> Salida: ",
		"",
		"Entrada: \"" + candidate + "\"",
		"Salida:",
	}, "\n")
}

func etaPrompt(candidate string) string {
	return strings.Join([]string{
		"Detecta y devuelve únicamente la hora estimada de llegada (ETA) mencionada por el usuario en formato HH:MM de 24 horas (por ejemplo 14:30 o 09:15).",
		"- Ignora muletillas como \"esteee\", \"umm\", \"creo\".",
		"- Convierte números en texto a dígitos (\"catorce treinta\" -> 14:30).",
		"- Si menciona la tarde o la noche, usa el formato de 24 horas.",
		"- Si no hay un ETA claro o válido, devuelve una cadena vacía.",
		"",
		"Ejemplos:",
		"- Entrada: \"14 30\" -> Salida: 14:30",
		"- Entrada: \"16 0 0\" -> Salida: 16:00",
		"- Entrada: \"3 15 de la tarde\" -> Salida: 15:15",
		"- Entrada: \"20 cero cero\" -> Salida: 20:00",
		"- Entrada: \"manana por la manana\" -> Salida: ",
		"",
		"Entrada: \"" + candidate + "\"",
		"Salida:",
	}, "\n")
}

func permissionPrompt(text string) string {
	return strings.Join([]string{
		"Clasifica la respuesta de un transportista a la pregunta \"¿Puedo hacerte unas preguntas?\".",
		"Devuelve únicamente una de estas categorías:",
		"- " + categoryAccept + ": acepta responder ahora.",
		"- " + categoryReject + ": no quiere responder.",
		"- " + categoryEmail + ": prefiere que le escriban por correo.",
		"- " + categoryWhatsApp + ": prefiere que le escriban por WhatsApp.",
		"- " + categoryReschedule + ": pide que le llamen en otro momento.",
		"- " + categoryWait + ": pide esperar unos minutos.",
		"",
		"Respuesta: \"" + text + "\"",
		"Categoría:",
	}, "\n")
}

func promptFor(kind domain.FieldKind, candidate string) string {
	if kind == domain.KindTime {
		return etaPrompt(candidate)
	}
	return platePrompt(candidate)
}
