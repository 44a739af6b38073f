package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Database holds the parsed catalog. Load replaces the whole entity set;
// queries are safe to run concurrently with a reload.
type Database struct {
	loader *Loader
	log    zerolog.Logger

	mu       sync.RWMutex
	entities map[string]Entity
	order    []string

	filters []Filter
	// subtypeMap rewrites raw export OutputTypes to custom subtype names.
	subtypeMap map[string]string
}

func New(loader *Loader) *Database {
	return &Database{
		loader:   loader,
		log:      log.With().Str("component", "database").Logger(),
		entities: make(map[string]Entity),
	}
}

// EnableFilter appends a registered name-normalization filter. Filters
// apply to entities parsed by subsequent Load calls.
func (d *Database) EnableFilter(name string, args []string) error {
	f, err := NewFilter(name, args)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.filters = append(d.filters, f)
	d.mu.Unlock()
	return nil
}

// ApplyTypeMap installs a custom subtype mapping, keyed custom name →
// raw export OutputType. Outputs parsed by subsequent Load calls carry
// the custom name as their subtype.
func (d *Database) ApplyTypeMap(typeMap map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subtypeMap = make(map[string]string, len(typeMap))
	for custom, raw := range typeMap {
		d.subtypeMap[raw] = custom
	}
}

// Load fetches the catalog XML and rebuilds the entity set.
func (d *Database) Load(ctx context.Context) error {
	data, err := d.loader.Load(ctx)
	if err != nil {
		return err
	}
	return d.parse(data)
}

// LoadBytes rebuilds the entity set from already-fetched export bytes.
func (d *Database) LoadBytes(data []byte) error {
	return d.parse(data)
}

// export XML shapes. The export nests Area elements arbitrarily deep:
// Area > Areas > Area, with outputs grouped under an Outputs element.
type xmlAreaList struct {
	Areas []xmlArea `xml:"Area"`
}

type xmlArea struct {
	IntegrationID string       `xml:"IntegrationID,attr"`
	Name          string       `xml:"Name,attr"`
	SortOrder     string       `xml:"SortOrder,attr"`
	Outputs       xmlOutputs   `xml:"Outputs"`
	Areas         *xmlAreaList `xml:"Areas"`
}

type xmlOutputs struct {
	Outputs []xmlOutput `xml:"Output"`
}

type xmlOutput struct {
	IntegrationID string `xml:"IntegrationID,attr"`
	Name          string `xml:"Name,attr"`
	OutputType    string `xml:"OutputType,attr"`
	SortOrder     string `xml:"SortOrder,attr"`
}

type xmlRoot struct {
	Areas xmlAreaList `xml:"Areas"`
}

func (d *Database) parse(data []byte) error {
	var root xmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("database: parse xml: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entities = make(map[string]Entity)
	d.order = d.order[:0]
	d.walk(&root.Areas, "")
	d.log.Info().Int("entities", len(d.entities)).Msg("catalog loaded")
	return nil
}

func (d *Database) walk(areas *xmlAreaList, parentKey string) {
	if areas == nil {
		return
	}
	for i, area := range areas.Areas {
		areaID := syntheticID(area.IntegrationID, fmt.Sprintf("%s/area[%d]", parentKey, i))
		d.store(Entity{
			DBID:       areaID,
			IID:        parseIID(area.IntegrationID),
			Name:       area.Name,
			Type:       EntityArea,
			SortOrder:  parseSortOrder(area.SortOrder),
			ParentDBID: parentKey,
		})

		for j, output := range area.Outputs.Outputs {
			outputID := syntheticID(output.IntegrationID, fmt.Sprintf("%s/output[%d]", areaID, j))
			d.store(Entity{
				DBID:       outputID,
				IID:        parseIID(output.IntegrationID),
				Name:       output.Name,
				Type:       EntityOutput,
				Subtype:    output.OutputType,
				SortOrder:  parseSortOrder(output.SortOrder),
				ParentDBID: areaID,
			})
		}

		d.walk(area.Areas, areaID)
	}
}

// store applies filters, records the entity and resolves its path. The
// parent chain is already present since the walk is top-down.
func (d *Database) store(e Entity) {
	for _, f := range d.filters {
		e = f(e)
	}
	if custom, ok := d.subtypeMap[e.Subtype]; ok {
		e.Subtype = custom
	}
	e.Path = strings.Join(d.pathLocked(e), " / ")
	d.entities[e.DBID] = e
	d.order = append(d.order, e.DBID)
}

func (d *Database) pathLocked(e Entity) []string {
	segments := []string{e.Name}
	for key := e.ParentDBID; key != ""; {
		parent, ok := d.entities[key]
		if !ok {
			break
		}
		segments = append([]string{parent.Name}, segments...)
		key = parent.ParentDBID
	}
	return segments
}

// syntheticID keeps the export's IntegrationID when meaningful and
// otherwise derives a stable ID from the tree position: the sha256 of the
// position key folded to 8 bytes.
func syntheticID(iid, positionKey string) string {
	if iid != "" && iid != "0" {
		return iid
	}
	digest := sha256.Sum256([]byte(positionKey))
	var folded [8]byte
	for i := 0; i < 8; i++ {
		folded[i] = digest[i] ^ digest[i+8] ^ digest[i+16] ^ digest[i+24]
	}
	return hex.EncodeToString(folded[:])
}

func parseIID(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseSortOrder(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// Entity looks one row up by database ID.
func (d *Database) Entity(dbID string) (Entity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entities[dbID]
	return e, ok
}

// Entities returns all rows in tree order.
func (d *Database) Entities() []Entity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entity, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.entities[id])
	}
	return out
}

// Areas returns every area in tree order.
func (d *Database) Areas() []Area {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Area
	for _, id := range d.order {
		if e := d.entities[id]; e.Type == EntityArea {
			out = append(out, Area{IID: e.IID, Name: e.Name, Path: e.Path})
		}
	}
	return out
}

// AreaByIID finds an area by integration ID.
func (d *Database) AreaByIID(iid int64) (Area, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		if e := d.entities[id]; e.Type == EntityArea && e.IID == iid {
			return Area{IID: e.IID, Name: e.Name, Path: e.Path}, true
		}
	}
	return Area{}, false
}

// Outputs returns every output in tree order.
func (d *Database) Outputs() []Output {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Output
	for _, id := range d.order {
		if e := d.entities[id]; e.Type == EntityOutput {
			out = append(out, Output{IID: e.IID, OutputType: e.Subtype, Name: e.Name, Path: e.Path})
		}
	}
	return out
}

// OutputByIID finds an output by integration ID.
func (d *Database) OutputByIID(iid int64) (Output, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		if e := d.entities[id]; e.Type == EntityOutput && e.IID == iid {
			return Output{IID: e.IID, OutputType: e.Subtype, Name: e.Name, Path: e.Path}, true
		}
	}
	return Output{}, false
}

// OutputsBySubtype returns outputs whose subtype matches exactly.
func (d *Database) OutputsBySubtype(subtype string) []Output {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Output
	for _, id := range d.order {
		if e := d.entities[id]; e.Type == EntityOutput && e.Subtype == subtype {
			out = append(out, Output{IID: e.IID, OutputType: e.Subtype, Name: e.Name, Path: e.Path})
		}
	}
	return out
}

// Subtypes returns the distinct output subtypes in first-seen order.
func (d *Database) Subtypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range d.order {
		e := d.entities[id]
		if e.Type != EntityOutput || seen[e.Subtype] {
			continue
		}
		seen[e.Subtype] = true
		out = append(out, e.Subtype)
	}
	return out
}
