package sandbox

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/whiskr/whiskr/internal/domain/billing"
	"github.com/whiskr/whiskr/internal/domain/consult"
	"github.com/whiskr/whiskr/internal/domain/patient"
	"github.com/whiskr/whiskr/internal/platform/noteparse"
)

// Generator produces plausible veterinary records from a seeded RNG, so
// the same seed always yields the same demo clinic.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded with seed. A zero seed falls
// back to the clock, giving a different data set per run.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) pick(list []string) string {
	return list[g.rng.Intn(len(list))]
}

// Intn exposes the generator's RNG so callers drawing counts share the
// same deterministic stream as the record content.
func (g *Generator) Intn(n int) int {
	return g.rng.Intn(n)
}

// Chance reports true pct percent of the time.
func (g *Generator) Chance(pct int) bool {
	return g.rng.Intn(100) < pct
}

type speciesProfile struct {
	name      string
	breeds    []string
	minWeight float64
	maxWeight float64
	maxYears  int
}

var speciesProfiles = []speciesProfile{
	{"dog", []string{
		"Labrador Retriever", "Golden Retriever", "Beagle", "Dachshund",
		"Border Collie", "French Bulldog", "German Shepherd",
		"Australian Shepherd", "Shih Tzu", "Mixed Breed",
	}, 4, 45, 14},
	{"cat", []string{
		"Domestic Shorthair", "Domestic Longhair", "Maine Coon", "Siamese",
		"Bengal", "Ragdoll", "Russian Blue", "Sphynx",
	}, 2.5, 9, 17},
	{"rabbit", []string{"Holland Lop", "Netherland Dwarf", "Rex", "Lionhead"}, 1, 2.5, 9},
	{"bird", []string{"Cockatiel", "Budgerigar", "Green-Cheeked Conure", "African Grey"}, 0.03, 0.5, 20},
	{"reptile", []string{"Bearded Dragon", "Leopard Gecko", "Ball Python"}, 0.05, 2, 15},
	{"ferret", []string{"Standard", "Angora"}, 0.7, 2, 8},
}

var (
	petNames = []string{
		"Luna", "Max", "Bella", "Charlie", "Milo", "Daisy", "Rocky", "Willow",
		"Ziggy", "Mochi", "Pepper", "Biscuit", "Clover", "Hazel", "Otis",
		"Poppy", "Gus", "Maple", "Finn", "Olive",
	}
	ownerFirstNames = []string{
		"Emma", "Liam", "Olivia", "Noah", "Ava", "Ethan", "Sophia", "Mason",
		"Isabella", "Lucas", "Mia", "Harper", "James", "Amelia", "Benjamin", "Evelyn",
	}
	ownerLastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
		"Davis", "Rodriguez", "Martinez", "Nguyen", "Anderson", "Taylor",
		"Thomas", "Moore", "Walker",
	}
	sexes = []string{"male", "female", "male (neutered)", "female (spayed)"}
)

// Dogs and cats dominate the caseload, exotics fill out the rest.
func (g *Generator) species() speciesProfile {
	roll := g.rng.Intn(10)
	switch {
	case roll < 4:
		return speciesProfiles[0]
	case roll < 8:
		return speciesProfiles[1]
	default:
		return speciesProfiles[2+g.rng.Intn(len(speciesProfiles)-2)]
	}
}

// GeneratePatient returns an unsaved patient with owner contact details.
func (g *Generator) GeneratePatient() *patient.Patient {
	sp := g.species()
	breed := g.pick(sp.breeds)
	sex := g.pick(sexes)
	dob := time.Now().UTC().AddDate(0, 0, -(30 + g.rng.Intn(sp.maxYears*365))).Truncate(24 * time.Hour)
	weight := math.Round((sp.minWeight+g.rng.Float64()*(sp.maxWeight-sp.minWeight))*10) / 10

	first := g.pick(ownerFirstNames)
	last := g.pick(ownerLastNames)
	email := strings.ToLower(first) + "." + strings.ToLower(last) + "@example.com"
	phone := fmt.Sprintf("(%03d) %03d-%04d", 200+g.rng.Intn(800), 200+g.rng.Intn(800), g.rng.Intn(10000))

	p := &patient.Patient{
		Name:        g.pick(petNames),
		Species:     sp.name,
		Breed:       &breed,
		Sex:         &sex,
		DateOfBirth: &dob,
		WeightKG:    &weight,
		OwnerName:   first + " " + last,
		OwnerEmail:  &email,
		OwnerPhone:  &phone,
		Status:      patient.StatusActive,
	}
	if g.Chance(75) {
		chip := fmt.Sprintf("9%014d", g.rng.Int63n(100000000000000))
		p.MicrochipID = &chip
	}
	return p
}

type visitScript struct {
	visitType  string
	subjective []string
	objective  []string
	assessment []string
	plan       []string
}

var wellnessScript = visitScript{
	visitType: noteparse.VisitWellness,
	subjective: []string{
		"Annual wellness visit. Owner reports no concerns, eating and drinking normally with good energy.",
		"Due for vaccines. Owner notes coat looks healthy and appetite is unchanged.",
		"Routine checkup. No vomiting, diarrhea or coughing at home.",
	},
	objective: []string{
		"BAR, well hydrated. Mucous membranes pink, CRT <2s. Heart and lungs auscult normally. Abdomen soft and non-painful. BCS 5/9.",
		"Alert and responsive. No nasal or ocular discharge. Dental tartar grade 1. Coat in good condition.",
	},
	assessment: []string{
		"Healthy adult. No abnormalities on physical exam.",
		"Clinically normal. Mild dental tartar, otherwise unremarkable.",
	},
	plan: []string{
		"Administered due vaccines. Continue current diet. Recheck in 12 months.",
		"Vaccines updated. Recommended dental prophylaxis within the year. Heartworm prevention refilled.",
	},
}

var illnessScript = visitScript{
	visitType: noteparse.VisitIllness,
	subjective: []string{
		"Owner reports vomiting for two days with decreased appetite. No known dietary indiscretion.",
		"Lethargy and soft stool since yesterday. Still drinking water.",
		"Intermittent coughing for a week, worse at night.",
	},
	objective: []string{
		"QAR, mildly dehydrated. Abdomen tense on palpation, no foreign body palpated. Temperature slightly elevated.",
		"BAR, coat dull. Increased bronchovesicular sounds bilaterally. No murmur.",
	},
	assessment: []string{
		"Acute gastroenteritis, suspect dietary indiscretion. Rule out foreign body if not improving.",
		"Upper respiratory irritation, most consistent with infectious tracheobronchitis.",
	},
	plan: []string{
		"Maropitant injection given. Bland diet for three days, recheck if vomiting persists. Sent home with probiotics.",
		"Started doxycycline for ten days. Rest and leash walks only. Recheck in two weeks if the cough persists.",
	},
}

var procedureScript = visitScript{
	visitType: noteparse.VisitProcedure,
	subjective: []string{
		"Admitted for dental cleaning under general anesthesia. Fasted overnight per instructions.",
		"Presented for scheduled surgery. No recent illness reported.",
	},
	objective: []string{
		"Pre-anesthetic exam unremarkable. Pre-op bloodwork within normal limits. Stable under anesthesia throughout.",
		"Induction smooth, vitals stable on monitoring. Recovery uneventful.",
	},
	assessment: []string{
		"Grade 2 dental disease, two extractions required.",
		"Routine procedure, no complications.",
	},
	plan: []string{
		"Soft food for five days, recheck extraction sites in ten days. Meloxicam for three days.",
		"E-collar for ten days with daily incision checks. Suture removal in fourteen days.",
	},
}

var recheckScript = visitScript{
	visitType: noteparse.VisitRecheck,
	subjective: []string{
		"Recheck after gastroenteritis. Owner reports appetite back to normal and no vomiting since the last visit.",
		"Follow-up on ear infection. Less head shaking this week.",
	},
	objective: []string{
		"BAR, well hydrated. Abdomen soft and comfortable on palpation.",
		"Ear canals mildly erythematous but much improved. Minimal debris.",
	},
	assessment: []string{
		"Resolved. No further treatment needed.",
		"Improving as expected, continue topical course.",
	},
	plan: []string{
		"Return to normal diet. No recheck needed unless signs recur.",
		"Finish remaining medication. Recheck only if signs return.",
	},
}

var emergencyScript = visitScript{
	visitType: noteparse.VisitEmergency,
	subjective: []string{
		"Presented on emergency after suspected rodenticide ingestion within the last hour.",
		"Hit by car. Owner reports limping and vocalizing since.",
	},
	objective: []string{
		"Tachycardic with pale mucous membranes. Painful on palpation of the left hind limb.",
		"Agitated, heart rate elevated. No open wounds found.",
	},
	assessment: []string{
		"Toxin ingestion, decontamination indicated.",
		"Suspect soft tissue trauma. Radiographs to rule out fracture.",
	},
	plan: []string{
		"Induced emesis and gave activated charcoal. Vitamin K1 course dispensed, recheck clotting times in 48 hours.",
		"Radiographs taken, no fracture seen. Pain management and strict rest for fourteen days.",
	},
}

var differentialPool = []string{
	"dietary indiscretion", "foreign body", "pancreatitis", "parasitism",
	"infectious tracheobronchitis", "toxin exposure", "gastroenteritis",
	"urinary obstruction",
}

var procedureNames = []string{
	"Dental prophylaxis", "Castration", "Ovariohysterectomy",
	"Mass removal", "Radiographs under sedation",
}

var anesthesiaProtocols = []string{
	"Propofol induction, isoflurane maintenance",
	"Dexmedetomidine and butorphanol sedation",
	"Alfaxalone induction, sevoflurane maintenance",
}

func (g *Generator) visitScript() visitScript {
	roll := g.rng.Intn(20)
	switch {
	case roll < 7:
		return wellnessScript
	case roll < 13:
		return illnessScript
	case roll < 16:
		return recheckScript
	case roll < 19:
		return procedureScript
	default:
		return emergencyScript
	}
}

// GenerateConsult returns an unsaved draft consult for p with SOAP notes
// matching its visit type. Vitals reuse the patient's recorded weight.
func (g *Generator) GenerateConsult(p *patient.Patient) *consult.Consult {
	script := g.visitScript()
	weight := 10.0
	if p.WeightKG != nil {
		weight = *p.WeightKG
	}
	c := &consult.Consult{
		PatientID:  p.ID,
		VisitType:  script.visitType,
		Vitals:     fmt.Sprintf("T %.1fF, HR %d, RR %d, wt %.1fkg", 99.5+g.rng.Float64()*3, 60+g.rng.Intn(120), 15+g.rng.Intn(30), weight),
		Subjective: g.pick(script.subjective),
		Objective:  g.pick(script.objective),
		Assessment: g.pick(script.assessment),
		Plan:       g.pick(script.plan),
	}
	switch script.visitType {
	case noteparse.VisitIllness, noteparse.VisitEmergency:
		perm := g.rng.Perm(len(differentialPool))
		for i := 0; i < 2+g.rng.Intn(2); i++ {
			c.Differentials = append(c.Differentials, differentialPool[perm[i]])
		}
	case noteparse.VisitProcedure:
		c.ProcedureName = g.pick(procedureNames)
		c.Anesthesia = g.pick(anesthesiaProtocols)
	}
	return c
}

var transcriptTemplates = []string{
	"Okay, so %s is here today for a checkup. Temperature looks normal. Heart and lungs sound good. Let's go ahead and update those vaccines while we're at it.",
	"The owner says %s has been off food since Tuesday. On palpation the abdomen is a little tense. I want to start with a bland diet and an anti-nausea injection, then recheck in a few days.",
	"%s is recovering well from the procedure. The incision site looks clean, no swelling or discharge. Keep the cone on for another week and we'll see you for suture removal.",
	"Weight is up a little since last visit, so let's talk about portion sizes for %s. Otherwise everything checks out, teeth could use a cleaning sometime this year.",
}

// GenerateTranscript returns dictation text for a visit with p and a
// plausible recording length in seconds.
func (g *Generator) GenerateTranscript(p *patient.Patient) (string, int) {
	return fmt.Sprintf(g.pick(transcriptTemplates), p.Name), 120 + g.rng.Intn(780)
}

type catalogItem struct {
	description string
	priceCents  int64
}

// visitCharges lists billable services per visit type. The first entry
// is the base exam fee and always lands on the invoice.
var visitCharges = map[string][]catalogItem{
	noteparse.VisitWellness: {
		{"Wellness Exam", 6500},
		{"Rabies Vaccine", 2800},
		{"DHPP Booster", 3200},
		{"FVRCP Booster", 3000},
		{"Heartworm Test", 4500},
		{"Fecal Parasite Screen", 3900},
	},
	noteparse.VisitIllness: {
		{"Sick Visit Exam", 7800},
		{"CBC and Chemistry Panel", 12400},
		{"Maropitant Injection", 4200},
		{"Subcutaneous Fluids", 5500},
		{"Doxycycline 10 Day Course", 3600},
	},
	noteparse.VisitProcedure: {
		{"Anesthesia and Monitoring", 14500},
		{"Dental Prophylaxis", 28500},
		{"Surgical Pack", 9500},
		{"Pre-anesthetic Bloodwork", 8900},
		{"Hospitalization Half Day", 6200},
	},
	noteparse.VisitRecheck: {
		{"Recheck Exam", 4500},
		{"Ear Cytology", 5800},
		{"Medication Refill", 2400},
	},
	noteparse.VisitEmergency: {
		{"Emergency Exam", 12500},
		{"Radiographs Two Views", 18500},
		{"Injectable Pain Management", 5600},
		{"Decontamination and Monitoring", 16800},
	},
}

// GenerateInvoiceItems returns the base exam fee for the visit type plus
// up to two distinct extras from its service list.
func (g *Generator) GenerateInvoiceItems(visitType string) []*billing.InvoiceItem {
	charges, ok := visitCharges[visitType]
	if !ok {
		charges = visitCharges[noteparse.VisitWellness]
	}
	items := []*billing.InvoiceItem{{
		Description:    charges[0].description,
		Quantity:       1,
		UnitPriceCents: charges[0].priceCents,
	}}
	perm := g.rng.Perm(len(charges) - 1)
	for i := 0; i < g.rng.Intn(3) && i < len(perm); i++ {
		extra := charges[1+perm[i]]
		items = append(items, &billing.InvoiceItem{
			Description:    extra.description,
			Quantity:       1,
			UnitPriceCents: extra.priceCents,
		})
	}
	return items
}

var teamMessages = []string{
	"Reminder that the 2pm dental got moved to tomorrow morning.",
	"We are out of the vaccine reminder postcards, more are on order.",
	"Dr. is on lunch until one, holding non-urgent calls until then.",
	"The lab courier already came by, second pickup is at four.",
	"Room 2 is cleaned and ready.",
	"Has anyone seen the otoscope from room 1?",
	"New kitten exam just walked in, can someone grab vitals?",
	"Food order arrived, the prescription diets are in the back.",
	"Heads up, the printer at the front desk is jammed again.",
	"Surgery ran long, pushing afternoon appointments by fifteen minutes.",
}

// GenerateMessage returns one line of front desk chatter.
func (g *Generator) GenerateMessage() string {
	return g.pick(teamMessages)
}
