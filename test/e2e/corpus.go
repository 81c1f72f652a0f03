// Package e2e provides end-to-end tests over the HTTP API with a topic corpus.
package e2e

import (
	"fmt"

	"github.com/hyperjump/chishiki/internal/models"
)

// CorpusDocument is a document entry in the E2E corpus.
type CorpusDocument struct {
	ID      string
	Topic   string
	Content string
}

// QueryTestCase defines a question and the document ID(s) that must appear in
// the results. At least one of ExpectedDocIDs must be present.
type QueryTestCase struct {
	Question       string
	ExpectedDocIDs []string
	Description    string
}

// Corpus holds documents and query test cases for E2E tests.
type Corpus struct {
	Documents    []CorpusDocument
	TestCases    []QueryTestCase
	TotalDocs    int
	TotalQueries int
}

// BuildCorpus returns a corpus of topic documents and query test cases. Each
// document carries a signature vocabulary so a question built from it passes
// the keyword relevance gate only for that document.
func BuildCorpus() *Corpus {
	docs := buildDocuments()
	cases := buildQueryTestCases(docs)
	return &Corpus{
		Documents:    docs,
		TestCases:    cases,
		TotalDocs:    len(docs),
		TotalQueries: len(cases),
	}
}

// topics pairs a question with a document body containing every question
// token. Question tokens are chosen so no other document contains more than
// one of them.
var topics = []struct {
	topic    string
	question string
	content  string
}{
	{"go", "goroutine scheduler preemption", "Goroutines are multiplexed onto operating system threads. The goroutine scheduler uses preemption so no single goroutine starves the rest."},
	{"baking", "sourdough starter fermentation", "Sourdough bread rises without commercial yeast. The starter drives fermentation overnight before the dough is shaped."},
	{"ml", "gradient descent convergence", "Training minimizes a loss surface step by step. Gradient descent convergence depends on the learning rate and the curvature."},
	{"db", "sqlite checkpoint journal", "SQLite writes changes to a rollback journal or a write-ahead log. A checkpoint folds the log back into the main database file."},
	{"vectors", "qdrant collection upsert", "Qdrant stores points inside a named collection. An upsert replaces the payload and vector of an existing point."},
	{"networking", "tcp handshake retransmission", "A TCP connection opens with a three-way handshake. Lost segments trigger retransmission after the timer expires."},
	{"astronomy", "supernova neutron remnant", "A massive star ends in a supernova. The collapsed core leaves a neutron remnant spinning hundreds of times per second."},
	{"cooking", "ramen broth tonkotsu", "Ramen starts with a long-simmered broth. Tonkotsu style boils pork bones until the liquid turns creamy."},
	{"gardening", "compost mulch nitrogen", "Compost feeds the soil as it breaks down. A mulch layer holds moisture while nitrogen fuels leafy growth."},
	{"music", "counterpoint fugue voices", "Counterpoint weaves independent melodic lines. A fugue introduces its subject in each of the voices in turn."},
	{"climbing", "belay carabiner rappel", "The belay device feeds rope through a locking carabiner. On the descent a rappel uses the same friction principle."},
	{"chemistry", "titration molarity indicator", "A titration measures concentration drop by drop. The indicator changes color when the molarity balances out."},
	{"aviation", "stall airspeed flaps", "A wing stalls when the angle of attack grows too steep. Lowering flaps lets the aircraft fly at a slower airspeed."},
	{"finance", "amortization principal interest", "A loan payment splits between principal and interest. The amortization schedule shifts that split over the term."},
	{"photography", "aperture shutter bokeh", "A wide aperture blurs the background into bokeh. The shutter speed then decides how motion is frozen."},
	{"sailing", "spinnaker tack jibe", "A spinnaker balloons out downwind. Changing course through the wind is a tack upwind and a jibe downwind."},
	{"medicine", "antibody vaccine immunity", "A vaccine trains the immune system ahead of infection. Antibody production gives lasting immunity to the pathogen."},
	{"geology", "tectonic subduction magma", "Tectonic plates grind past and under one another. Subduction zones melt crust into magma that feeds volcanoes."},
	{"beer", "lager yeast lagering", "Lager ferments cold and slow. The yeast settles during weeks of lagering, leaving the beer crisp and clear."},
	{"chess", "zugzwang endgame opposition", "In the endgame every tempo matters. Zugzwang forces a move that ruins the position, and opposition decides king races."},
	{"running", "marathon glycogen pacing", "A marathon burns through stored glycogen near the thirty kilometer mark. Even pacing delays hitting that wall."},
	{"carpentry", "dovetail mortise tenon", "A dovetail joint resists pulling apart. The mortise and tenon carries load in frames and table legs."},
	{"typography", "kerning serif ligature", "Kerning tightens the space between letter pairs. A serif face often ships with ligature glyphs for awkward combinations."},
	{"espresso", "portafilter crema grind", "Espresso forces hot water through a packed portafilter. A fine grind and fresh beans build the crema on top."},
	{"kubernetes", "kubelet replicaset taint", "The kubelet runs pods on every node. A replicaset keeps the desired count while a taint repels pods from a node."},
	{"cryptography", "nonce ciphertext entropy", "A nonce must never repeat under the same key. Weak entropy makes the ciphertext predictable and breakable."},
	{"weather", "cumulonimbus downdraft hail", "A cumulonimbus tower can climb into the stratosphere. Its downdraft cools the ground minutes before hail arrives."},
	{"pottery", "kiln glaze bisque", "Clay is first fired to bisque hardness. The glaze melts into glass during the second kiln firing."},
	{"beekeeping", "hive drone pollen", "A hive holds one queen and thousands of workers. Drones do no foraging, so pollen comes in on worker legs."},
	{"surfing", "swell reef barrel", "Ground swell arrives in long clean lines. Over a shallow reef the wave folds into a hollow barrel."},
}

func buildDocuments() []CorpusDocument {
	out := make([]CorpusDocument, 0, len(topics))
	for i, t := range topics {
		out = append(out, CorpusDocument{
			ID:      fmt.Sprintf("e2e-doc-%03d", i+1),
			Topic:   t.topic,
			Content: t.content,
		})
	}
	return out
}

func buildQueryTestCases(docs []CorpusDocument) []QueryTestCase {
	cases := make([]QueryTestCase, 0, len(topics))
	for i, t := range topics {
		cases = append(cases, QueryTestCase{
			Question:       t.question,
			ExpectedDocIDs: []string{docs[i].ID},
			Description:    fmt.Sprintf("question %q should return doc %s", t.question, docs[i].ID),
		})
	}
	return cases
}

// ToIngestRequests converts the corpus documents to ingestion requests.
func (c *Corpus) ToIngestRequests() []*models.IngestRequest {
	out := make([]*models.IngestRequest, len(c.Documents))
	for i := range c.Documents {
		d := &c.Documents[i]
		out[i] = &models.IngestRequest{
			DocumentID: d.ID,
			Text:       d.Content,
			Metadata:   map[string]interface{}{"topic": d.Topic},
		}
	}
	return out
}
