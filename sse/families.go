package sse

import "fmt"

func init() {
	Register("bisse", "binary state speciation and extinction", newBiSSE)
	Register("musse", "multiple state speciation and extinction (observed states)", newMuSSE)
	Register("hisse", "binary state with hidden classes (hidden)", newHiSSE)
	Register("hisse_null", "character-independent null: rates depend on hidden classes only (hidden)", newHiSSENull)
	Register("muhisse", "two binary characters with hidden classes (hidden)", newMuHiSSE)
	Register("geosse", "geographic range: areas 0, 1 and widespread 01", newGeoSSE)
	Register("geohisse", "geographic range with hidden classes (hidden)", newGeoHiSSE)
	Register("noclass", "geographic range without cladogenetic range inheritance", newNoClass)
	Register("hinoclass", "geographic range without cladogenesis, hidden classes (hidden)", newHiNoClass)
}

func event(i int) Target {
	return Target{Kind: TargetEvent, I: i, J: i, K: i}
}

func clado(i, j, k int) Target {
	return Target{Kind: TargetEvent, I: i, J: j, K: k}
}

func extinction(i int) Target {
	return Target{Kind: TargetExtinction, I: i}
}

func transition(i, j int) Target {
	return Target{Kind: TargetTransition, I: i, J: j}
}

// hiddenClasses returns the number of hidden classes, def if not set.
func hiddenClasses(opts Options, def int) int {
	if opts.Hidden == 0 {
		return def
	}
	return opts.Hidden
}

// noHidden checks that no hidden classes were requested.
func noHidden(name string, opts Options) error {
	if opts.Hidden > 1 {
		return fmt.Errorf("%w: %s has no hidden classes", ErrConfig, name)
	}
	if opts.Observed != 0 {
		return fmt.Errorf("%w: number of observed states is fixed for %s", ErrConfig, name)
	}
	return nil
}

// stateSlots returns speciation and extinction slots for every state.
func stateSlots(space Space) (slots []Slot) {
	for i := 0; i < space.N(); i++ {
		slots = append(slots, Slot{
			Name:    "lambda" + space.Label(i),
			Kind:    SlotSpeciation,
			Targets: []Target{event(i)},
		})
	}
	for i := 0; i < space.N(); i++ {
		slots = append(slots, Slot{
			Name:    "mu" + space.Label(i),
			Kind:    SlotExtinction,
			Targets: []Target{extinction(i)},
		})
	}
	return
}

func transitionSlot(space Space, i, j int) Slot {
	return Slot{
		Name:    "q" + space.Label(i) + "_" + space.Label(j),
		Kind:    SlotTransition,
		Targets: []Target{transition(i, j)},
	}
}

// hiddenSlots returns transitions between hidden classes keeping the
// observed state.
func hiddenSlots(space Space) (slots []Slot) {
	for o := 0; o < space.NObserved(); o++ {
		for h1 := 0; h1 < space.NHidden; h1++ {
			for h2 := 0; h2 < space.NHidden; h2++ {
				if h1 != h2 {
					slots = append(slots, transitionSlot(space, space.Index(o, h1), space.Index(o, h2)))
				}
			}
		}
	}
	return
}

func newBiSSE(opts Options) (*Family, error) {
	if err := noHidden("bisse", opts); err != nil {
		return nil, err
	}
	space, err := NewSpace(numericLabels(2), 1)
	if err != nil {
		return nil, err
	}
	slots := stateSlots(space)
	slots = append(slots, transitionSlot(space, 0, 1), transitionSlot(space, 1, 0))
	return newFamily("bisse", space, slots), nil
}

func newMuSSE(opts Options) (*Family, error) {
	if opts.Hidden > 1 {
		return nil, fmt.Errorf("%w: musse has no hidden classes, use muhisse", ErrConfig)
	}
	k := opts.Observed
	if k == 0 {
		k = 3
	}
	if k < 2 {
		return nil, fmt.Errorf("%w: musse needs at least 2 states, got %d", ErrConfig, k)
	}
	space, err := NewSpace(numericLabels(k), 1)
	if err != nil {
		return nil, err
	}
	slots := stateSlots(space)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i != j {
				slots = append(slots, transitionSlot(space, i, j))
			}
		}
	}
	return newFamily("musse", space, slots), nil
}

func newHiSSE(opts Options) (*Family, error) {
	if opts.Observed != 0 {
		return nil, fmt.Errorf("%w: number of observed states is fixed for hisse", ErrConfig)
	}
	space, err := NewSpace(numericLabels(2), hiddenClasses(opts, 2))
	if err != nil {
		return nil, err
	}
	slots := stateSlots(space)
	for h := 0; h < space.NHidden; h++ {
		s0, s1 := space.Index(0, h), space.Index(1, h)
		slots = append(slots, transitionSlot(space, s0, s1), transitionSlot(space, s1, s0))
	}
	slots = append(slots, hiddenSlots(space)...)
	return newFamily("hisse", space, slots), nil
}

func newHiSSENull(opts Options) (*Family, error) {
	if opts.Observed != 0 {
		return nil, fmt.Errorf("%w: number of observed states is fixed for hisse_null", ErrConfig)
	}
	space, err := NewSpace(numericLabels(2), hiddenClasses(opts, 4))
	if err != nil {
		return nil, err
	}
	if space.NHidden < 2 {
		return nil, fmt.Errorf("%w: hisse_null needs at least 2 hidden classes", ErrConfig)
	}
	var slots []Slot
	for h := 0; h < space.NHidden; h++ {
		slots = append(slots, Slot{
			Name:    "lambda" + space.HiddenLabel(h),
			Kind:    SlotSpeciation,
			Targets: []Target{event(space.Index(0, h)), event(space.Index(1, h))},
		})
	}
	for h := 0; h < space.NHidden; h++ {
		slots = append(slots, Slot{
			Name:    "mu" + space.HiddenLabel(h),
			Kind:    SlotExtinction,
			Targets: []Target{extinction(space.Index(0, h)), extinction(space.Index(1, h))},
		})
	}
	q01 := Slot{Name: "q0_1", Kind: SlotTransition}
	q10 := Slot{Name: "q1_0", Kind: SlotTransition}
	for h := 0; h < space.NHidden; h++ {
		s0, s1 := space.Index(0, h), space.Index(1, h)
		q01.Targets = append(q01.Targets, transition(s0, s1))
		q10.Targets = append(q10.Targets, transition(s1, s0))
	}
	alpha := Slot{Name: "alpha", Kind: SlotTransition}
	for _, slot := range hiddenSlots(space) {
		alpha.Targets = append(alpha.Targets, slot.Targets...)
	}
	slots = append(slots, q01, q10, alpha)
	return newFamily("hisse_null", space, slots), nil
}

func newMuHiSSE(opts Options) (*Family, error) {
	if opts.Observed != 0 {
		return nil, fmt.Errorf("%w: number of observed states is fixed for muhisse", ErrConfig)
	}
	space, err := NewSpace([]string{"00", "01", "10", "11"}, hiddenClasses(opts, 1))
	if err != nil {
		return nil, err
	}
	slots := stateSlots(space)
	for h := 0; h < space.NHidden; h++ {
		for o1, l1 := range space.Observed {
			for o2, l2 := range space.Observed {
				// only one of the characters can change at a time
				if (l1[0] != l2[0]) != (l1[1] != l2[1]) {
					slots = append(slots, transitionSlot(space, space.Index(o1, h), space.Index(o2, h)))
				}
			}
		}
	}
	slots = append(slots, hiddenSlots(space)...)
	return newFamily("muhisse", space, slots), nil
}

// geoLabels are the range labels: widespread, area 0 endemic, area 1
// endemic.
var geoLabels = []string{"01", "0", "1"}

// geoSlots returns the slots of one hidden class of a range model.
// With cladogenesis a widespread lineage speciating within area 0
// gives a widespread and an area 0 daughter, speciating between areas
// gives one daughter in each area. Without it every speciation leaves
// both daughters in the parent range.
func geoSlots(space Space, h int, cladogenetic bool) []Slot {
	sfx := space.HiddenLabel(h)
	w, a, b := space.Index(0, h), space.Index(1, h), space.Index(2, h)
	s0 := Slot{Name: "s0" + sfx, Kind: SlotSpeciation, Targets: []Target{event(a)}}
	s1 := Slot{Name: "s1" + sfx, Kind: SlotSpeciation, Targets: []Target{event(b)}}
	s01 := Slot{Name: "s01" + sfx, Kind: SlotSpeciation}
	if cladogenetic {
		s0.Targets = append(s0.Targets, clado(w, w, a))
		s1.Targets = append(s1.Targets, clado(w, w, b))
		s01.Targets = []Target{clado(w, a, b)}
	} else {
		s01.Targets = []Target{event(w)}
	}
	return []Slot{
		s0, s1, s01,
		// local extinction of the widespread range is a range
		// contraction
		{Name: "x0" + sfx, Kind: SlotExtinction, Targets: []Target{extinction(a), transition(w, b)}},
		{Name: "x1" + sfx, Kind: SlotExtinction, Targets: []Target{extinction(b), transition(w, a)}},
		{Name: "d0" + sfx, Kind: SlotTransition, Targets: []Target{transition(a, w)}},
		{Name: "d1" + sfx, Kind: SlotTransition, Targets: []Target{transition(b, w)}},
	}
}

func newGeo(name string, space Space, cladogenetic bool) *Family {
	var slots []Slot
	for h := 0; h < space.NHidden; h++ {
		slots = append(slots, geoSlots(space, h, cladogenetic)...)
	}
	if space.NHidden > 1 {
		slots = append(slots, hiddenSlots(space)...)
	}
	return newFamily(name, space, slots)
}

func newGeoSSE(opts Options) (*Family, error) {
	if err := noHidden("geosse", opts); err != nil {
		return nil, err
	}
	space, err := NewSpace(geoLabels, 1)
	if err != nil {
		return nil, err
	}
	return newGeo("geosse", space, true), nil
}

func newGeoHiSSE(opts Options) (*Family, error) {
	if opts.Observed != 0 {
		return nil, fmt.Errorf("%w: number of observed states is fixed for geohisse", ErrConfig)
	}
	space, err := NewSpace(geoLabels, hiddenClasses(opts, 2))
	if err != nil {
		return nil, err
	}
	return newGeo("geohisse", space, true), nil
}

func newNoClass(opts Options) (*Family, error) {
	if err := noHidden("noclass", opts); err != nil {
		return nil, err
	}
	space, err := NewSpace(geoLabels, 1)
	if err != nil {
		return nil, err
	}
	return newGeo("noclass", space, false), nil
}

func newHiNoClass(opts Options) (*Family, error) {
	if opts.Observed != 0 {
		return nil, fmt.Errorf("%w: number of observed states is fixed for hinoclass", ErrConfig)
	}
	space, err := NewSpace(geoLabels, hiddenClasses(opts, 2))
	if err != nil {
		return nil, err
	}
	return newGeo("hinoclass", space, false), nil
}
