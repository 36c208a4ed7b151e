package portal

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/raterudder/aigueshorta/pkg/log"
	"github.com/raterudder/aigueshorta/pkg/types"
	"golang.org/x/net/html"
)

const contractSelectors = `div.contract-item, div.contract-summary, div.contract-card, li.contract, article.contrato, div[class*="contract"], div[class*="contrato"], div[class*="poliza"]`

var (
	contractLabelRegex   = regexp.MustCompile(`(?i)N(?:º|°|o\.|úmero|umero)\s*(?:de\s*)?(?:Contrato|Póliza|Poliza)`)
	contractNumberRegex  = regexp.MustCompile(`(?i)N(?:º|°|o\.|úmero|umero)\s*(?:de\s*)?(?:Contrato|Póliza|Poliza)\s*[:\-]?\s*(\d+)`)
	plausibleNumberRegex = regexp.MustCompile(`\b\d{6,12}\b`)
	addressRegex         = regexp.MustCompile(`(?is)(?:Dirección|Direccion|Ubicación|Ubicacion|Emplazamiento|Localización|Localizacion)(?:\s+(?:de\s+)?Suministro)?\s*[:\-]?\s*(.+)`)
	addressEndRegex      = regexp.MustCompile(`(?i)\n|\s+(?:Población|Poblacion|CP|C\.P\.|Teléfono|Telefono|Móvil|Movil|Titular|Estado|N(?:º|°|úmero|umero)\s*(?:de\s*)?(?:Contrato|Póliza|Poliza))\s*:`)
	addressClassRegex    = regexp.MustCompile(`(?i)address|direccion|ubicacion`)
	contractAttrRegex    = regexp.MustCompile(`(?i)contract|contrato|poliza`)
	digitsRegex          = regexp.MustCompile(`^\d{6,}$`)
)

// ContractStrategy returns the candidate containers on a contracts page.
type ContractStrategy struct {
	Name string
	Find func(doc *goquery.Document) []*html.Node
}

// ContractExtractor scrapes contract numbers and supply addresses from the
// contracts page. Strategies are tried in order until one yields candidates.
type ContractExtractor struct {
	Strategies []ContractStrategy
}

// NewContractExtractor returns an extractor that tries structural selectors
// first and falls back to looking for "Nº Contrato" style labels.
func NewContractExtractor() *ContractExtractor {
	return &ContractExtractor{
		Strategies: []ContractStrategy{
			{Name: "selectors", Find: contractContainersBySelector},
			{Name: "labels", Find: contractContainersByLabel},
		},
	}
}

// Extract returns the contracts found in doc, deduplicated by number. It
// never fails; an unrecognized page yields no contracts.
func (e *ContractExtractor) Extract(ctx context.Context, doc *goquery.Document) []types.Contract {
	var containers []*html.Node
	for _, s := range e.Strategies {
		containers = s.Find(doc)
		if len(containers) > 0 {
			log.Ctx(ctx).DebugContext(ctx, "found contract containers", slog.String("strategy", s.Name), slog.Int("count", len(containers)))
			break
		}
	}

	var contracts []types.Contract
	seen := make(map[string]bool)
	for _, n := range containers {
		c := extractContract(n)
		if c.Number == "" || seen[c.Number] {
			continue
		}
		seen[c.Number] = true
		contracts = append(contracts, c)
		log.Ctx(ctx).InfoContext(ctx, "extracted contract", slog.String("contractNumber", c.Number))
	}
	return contracts
}

func contractContainersBySelector(doc *goquery.Document) []*html.Node {
	return doc.Find(contractSelectors).Nodes
}

func contractContainersByLabel(doc *goquery.Document) []*html.Node {
	var containers []*html.Node
	seen := make(map[*html.Node]bool)
	for _, root := range doc.Nodes {
		textNodes(root, func(t *html.Node) {
			if !contractLabelRegex.MatchString(t.Data) {
				return
			}
			p := closestElement(t, "div", "li", "article", "section", "tr")
			if p == nil || seen[p] {
				return
			}
			seen[p] = true
			containers = append(containers, p)
		})
	}
	return containers
}

func extractContract(n *html.Node) types.Contract {
	text := nodeText(n)
	return types.Contract{
		Number:  contractNumber(n, text),
		Address: contractAddress(n, text),
	}
}

// contractNumber prefers a labeled number, then any 6-12 digit token (postal
// codes are 5 digits), then a contract-ish attribute on the container.
func contractNumber(n *html.Node, text string) string {
	if m := contractNumberRegex.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := plausibleNumberRegex.FindString(text); m != "" {
		return m
	}
	for _, a := range n.Attr {
		if contractAttrRegex.MatchString(a.Key) && digitsRegex.MatchString(a.Val) {
			return a.Val
		}
	}
	return ""
}

func contractAddress(n *html.Node, text string) string {
	if m := addressRegex.FindStringSubmatch(text); m != nil {
		addr := strings.TrimSpace(m[1])
		if loc := addressEndRegex.FindStringIndex(addr); loc != nil {
			addr = addr[:loc[0]]
		}
		if addr = strings.TrimSpace(addr); addr != "" {
			return addr
		}
	}
	el := goquery.NewDocumentFromNode(n).Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return addressClassRegex.MatchString(class)
	}).First()
	return selectionText(el)
}
