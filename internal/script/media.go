package script

// Example-image references forwarded to the promoter as illustrative guidance
// when a photo-collection step begins. Hosted on the static asset bucket.
const exampleImageBase = "https://assets.kapta.io/examples/"

var exampleImages = map[string]string{
	SectionFachada:         exampleImageBase + "fachada.jpg",
	SectionBebidasAlc:      exampleImageBase + "bebidas_alcoholicas.jpg",
	SectionBebidasNoAlc:    exampleImageBase + "bebidas_no_alcoholicas.jpg",
	SectionSnacks:          exampleImageBase + "snacks.jpg",
	SectionHuevos:          exampleImageBase + "huevos.jpg",
	SectionCigarrillos:     exampleImageBase + "cigarrillos.jpg",
	SectionCuidadoPersonal: exampleImageBase + "cuidado_personal.jpg",
}

// ExampleImage returns the example-media URL for a photo section, or an empty
// string when the section has none (the audio and cedula steps).
func ExampleImage(section string) string {
	return exampleImages[section]
}
