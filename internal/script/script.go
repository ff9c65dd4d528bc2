// Package script holds the static, versioned prompt catalogs for the
// field-visit flows.
//
// Each flow is an ordered list of entries pairing the prompt text with the
// structural requirement the inbound message must satisfy before the flow
// advances. Catalogs are read-only after initialization and safe for
// concurrent reads.
package script

import (
	"errors"
	"fmt"

	"github.com/kapta-io/fieldbot/internal/models"
)

// Version identifies the script revision in use. Bumped whenever prompt text
// or step requirements change.
const Version = "2025.03"

// StepKind is the structural requirement of a script entry.
type StepKind string

const (
	// StepText requires a free-form text answer stored verbatim.
	StepText StepKind = "text"
	// StepChoice requires a text answer matching one of the entry's choices.
	StepChoice StepKind = "choice"
	// StepImage requires RequiredCount images for the entry's section.
	StepImage StepKind = "image"
	// StepAudio requires a single audio unit.
	StepAudio StepKind = "audio"
	// StepLocation requires a location payload with latitude and longitude.
	StepLocation StepKind = "location"
	// StepAny accepts any message kind and advances immediately (greetings).
	StepAny StepKind = "any"
	// StepNone accepts nothing; terminal thank-you entries.
	StepNone StepKind = "none"
)

// Entry is one prompt/requirement unit, addressed by (flow, step index).
type Entry struct {
	Prompt        string
	Kind          StepKind
	Section       string         // media section name for image/audio steps
	RequiredCount int            // accepted units needed before advancing
	DataKey       models.DataKey // where text/choice answers are stored
	Choices       []string       // allowed literal codes for StepChoice
	RequireLabel  bool           // location must carry a name or address
}

// ErrNotFound is returned by Lookup when (flow, index) is outside the catalog.
var ErrNotFound = errors.New("script entry not found")

// Section names for the photo-collection portion of the channel scripts.
const (
	SectionFachada        = "fachada"
	SectionBebidasAlc     = "bebidas_alcoholicas"
	SectionBebidasNoAlc   = "bebidas_no_alcoholicas"
	SectionSnacks         = "snacks"
	SectionHuevos         = "huevos"
	SectionCigarrillos    = "cigarrillos"
	SectionCuidadoPersonal = "cuidado_personal"
	SectionAudio          = "audio"
)

// SupermarketKeyword decides the onboarding branch: if the onboarding answer
// contains it the session is classified as modern trade, otherwise
// traditional.
const SupermarketKeyword = "supermercados"

var onboardingScript = []Entry{
	{
		Prompt: "Hola, {name} te saludamos de Eficacia. Para comenzar con el proceso de registro necesitamos validar tus datos. Por favor me puedes enviar una foto de tu cédula (frente y reverso).",
		Kind:   StepImage, Section: "cedula", RequiredCount: 1,
	},
	{
		Prompt:  "Gracias, me ayudas a contestar estas preguntas porfa?\n¿Para qué cliente de Eficacia trabajas?\n¿Visitas principalmente supermercados o tiendas de barrio?",
		Kind:    StepText,
		DataKey: models.DataKeyOnboardingAnswer,
	},
}

var traditionalScript = []Entry{
	{
		Prompt: "👋Hola, {name}! Soy Pastor de Kapta. Necesito tu apoyo para tomar algunas fotos en las tiendas que visitas. 📸",
		Kind:   StepAny,
	},
	{
		Prompt:  "Para empezar, ¿me puedes por favor compartir la dirección y el nombre de la tienda donde iniciarás el registro?\n\nEjemplo:\n📌 Surtifruver Lucey\n📌 Carrera 78F #58 sur - 48, Bosa",
		Kind:    StepText,
		DataKey: models.DataKeyStoreAddress,
	},
	{
		Prompt: "Se por Eficacia que visitas tiendas de barrio, dime con solo el número en que tipo de tienda estas: ✏️\n\n1️⃣ Tienda de barrio\nNegocio con mostrador, donde los productos no están al alcance del cliente.\n2️⃣ Supermercado de barrio\nTienda con góndolas y estanterías donde los productos están al alcance, con al menos una caja de pago.\n3️⃣ Licorera/Estanco\nEspecializada en licores, también vende gaseosas como mezclador.\n4️⃣ Panadería\nVende pan, pasteles y productos recién horneados.\n5️⃣ Farmacia\nVenta de medicamentos y productos de cuidado personal.",
		Kind:    StepChoice,
		DataKey: models.DataKeyStoreType,
		Choices: []string{"1", "2", "3", "4", "5"},
	},
	{
		Prompt: "¡Ahora ayúdame con la primera foto!📸\nToma una foto de la fachada de la tienda. Es importante que se vea el nombre y la entrada.",
		Kind:   StepImage, Section: SectionFachada, RequiredCount: 1,
	},
	{
		Prompt: "🥃 Ahora, toma 3 fotos de la sección de bebidas alcohólicas.\nTen en cuenta que se vea bebidas como:\n✅Vodka\n✅Ginebra\n✅Whisky\n✅Tequila\n✅Ron\n✅Cerveza\n✅Aguardiente",
		Kind:   StepImage, Section: SectionBebidasAlc, RequiredCount: 3,
	},
	{
		Prompt: "🥤 ¡Hagámoslo con las bebidas sin alcohol!\nAbre la neveras y toma 3 fotos donde se vea:\n✅Gaseosas\n✅Aguas\n✅Jugos\n✅Té helado\n✅Bebidas energéticas\n✅Bebidas hidratantes",
		Kind:   StepImage, Section: SectionBebidasNoAlc, RequiredCount: 3,
	},
	{
		Prompt: "🍪Sigamos con 3 fotos de la sección de snacks.\nIncluye todos los productos disponibles en la tienda:\n✅Papas fritas\n✅Galletas\n✅Ponqués\n✅Gomas de mascar\n✅Chocolates",
		Kind:   StepImage, Section: SectionSnacks, RequiredCount: 3,
	},
	{
		Prompt: "🥚 Ahora, toma 3 fotos de la sección de huevos.\nAsegúrate de capturar toda la variedad disponible en la tienda, incluyendo:\n✅Huevos blancos y rojos\n✅Diferentes presentaciones (bandejas, por unidad, etc.)",
		Kind:   StepImage, Section: SectionHuevos, RequiredCount: 3,
	},
	{
		Prompt: "🚬 Vamos con la sección de cigarrillos y vapes.\nToma 3 fotos asegurándote de incluir:\n✅Cigarrillos de diferentes marcas\n✅Vapes y cigarrillos electrónicos (si hay disponibles)",
		Kind:   StepImage, Section: SectionCigarrillos, RequiredCount: 3,
	},
	{
		Prompt: "🧴 Ahora, toma 3 fotos de la sección de cuidado personal.\nIncluye productos como:\n✅Shampoo\n✅Tinte para el cabello\n✅Pañales\n✅Cuchillas de afeitar\n✅Cepillos de dientes\n✅Enjuague bucal",
		Kind:   StepImage, Section: SectionCuidadoPersonal, RequiredCount: 3,
	},
	{
		Prompt: "🎤 Por último, enviame un audio respondiendo estas preguntas o algo adicional que quieras comentarme sobre el punto de venta.\n\n¿Hay espacios vacíos en los estantes?\n¿Faltan ciertas marcas o productos?\n¿Las promociones están bien visibles?\n¿Los productos están bien organizados?",
		Kind:   StepAudio, Section: SectionAudio, RequiredCount: 1,
	},
	{
		Prompt: "✅ ¡Gracias {name} por compartir toda la información! Avisame cuando ya estes en la otra tienda.",
		Kind:   StepNone,
	},
}

var modernScript = []Entry{
	{
		Prompt: "👋Hola, {name}! Soy Pastor de Kapta. Necesito tu apoyo para tomar algunas fotos en las tiendas que visitas. 📸",
		Kind:   StepAny,
	},
	{
		Prompt:       "Para empezar, enviame la ubicación de la tienda donde iniciarás el registro. 📍\nAdemás, compártenos el nombre de la tienda.\n\nEjemplo:\n📌Éxito la felicidad\n\nPara enviarnos tu ubicación:\n1️⃣ Abre el chat.\n2️⃣ Pulsa el ícono de adjuntar 📎.\n3️⃣ Selecciona \"Ubicación\" y elige \"Enviar mi ubicación actual\".",
		Kind:         StepLocation,
		RequireLabel: true,
	},
	{
		Prompt: "🥃 Ahora, toma 3 fotos de la sección de bebidas alcohólicas.\nTen en cuenta que se vea bebidas como:\n✅Vodka\n✅Ginebra\n✅Whisky\n✅Tequila\n✅Ron\n✅Cerveza\n✅Aguardiente",
		Kind:   StepImage, Section: SectionBebidasAlc, RequiredCount: 3,
	},
	{
		Prompt: "🥤 ¡Hagámoslo con las bebidas sin alcohol!\nToma 3 fotos de esta sección y muestra todos los productos que existan de:\n✅Gaseosas\n✅Aguas\n✅Jugos\n✅Té helado\n✅Bebidas energéticas",
		Kind:   StepImage, Section: SectionBebidasNoAlc, RequiredCount: 3,
	},
	{
		Prompt: "🍪Sigamos con 3 fotos de la sección de snacks.\nIncluye todos los productos disponibles en la tienda:\n✅Papas fritas\n✅Galletas\n✅Ponqués\n✅Gomas de mascar\n✅Chocolates",
		Kind:   StepImage, Section: SectionSnacks, RequiredCount: 3,
	},
	{
		Prompt: "🥚 Ahora, toma 3 fotos de la sección de huevos.\nAsegúrate de capturar toda la variedad disponible en la tienda, incluyendo:\n✅Huevos blancos y rojos\n✅Diferentes presentaciones (bandejas, por unidad, etc.)",
		Kind:   StepImage, Section: SectionHuevos, RequiredCount: 3,
	},
	{
		Prompt: "🚬 Vamos con la sección de cigarrillos y vapes.\nToma 3 fotos asegurándote de incluir:\n✅Cigarrillos de diferentes marcas\n✅Vapes y cigarrillos electrónicos (si hay disponibles)",
		Kind:   StepImage, Section: SectionCigarrillos, RequiredCount: 3,
	},
	{
		Prompt: "🧴 Ahora, toma 3 fotos de la sección de cuidado personal.\nIncluye productos como:\n✅Shampoo\n✅Tinte para el cabello\n✅Pañales\n✅Cuchillas de afeitar\n✅Cepillos de dientes\n✅Enjuague bucal",
		Kind:   StepImage, Section: SectionCuidadoPersonal, RequiredCount: 3,
	},
	{
		Prompt: "🎤 Por último, enviame un audio respondiendo estas preguntas o algo adicional que quieras comentarme.\n\n¿Hay espacios vacíos en los estantes?\n¿Faltan ciertas marcas o productos?\n¿Las promociones están bien visibles?\n¿Los productos están bien organizados?",
		Kind:   StepAudio, Section: SectionAudio, RequiredCount: 1,
	},
	{
		Prompt: "✅ ¡Gracias {name} por compartir toda la información! Avísame cuando ya estés en la otra tienda.",
		Kind:   StepNone,
	},
}

var scripts = map[models.FlowType][]Entry{
	models.FlowOnboarding:  onboardingScript,
	models.FlowTraditional: traditionalScript,
	models.FlowModern:      modernScript,
}

// Script returns the ordered entry list for a flow. The returned slice is
// shared and must not be modified.
func Script(flow models.FlowType) []Entry {
	return scripts[flow]
}

// Lookup returns the entry at (flow, index), or ErrNotFound when the flow is
// unknown or the index is out of range.
func Lookup(flow models.FlowType, index int) (Entry, error) {
	entries, ok := scripts[flow]
	if !ok {
		return Entry{}, fmt.Errorf("flow %q: %w", flow, ErrNotFound)
	}
	if index < 0 || index >= len(entries) {
		return Entry{}, fmt.Errorf("flow %q step %d: %w", flow, index, ErrNotFound)
	}
	return entries[index], nil
}

// Len returns the number of entries in a flow's script.
func Len(flow models.FlowType) int {
	return len(scripts[flow])
}

// LastIndex returns the final step index of a flow's script, or -1 for an
// unknown flow.
func LastIndex(flow models.FlowType) int {
	return len(scripts[flow]) - 1
}
