package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/config"
	"github.com/EdwardLH219/pickd-backend/internal/database"
	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/params"
	"github.com/EdwardLH219/pickd-backend/internal/repository"
	"github.com/EdwardLH219/pickd-backend/internal/themes"
	"github.com/EdwardLH219/pickd-backend/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VenueConfig describes one demo tenant and the shape of its review history.
type VenueConfig struct {
	Name       string
	Slug       string
	City       string
	Category   string
	Issues     []string
	RatingDist map[int]int
}

// DemoSeeder writes demo tenants, reviews, themes and a baseline parameter
// set into the database.
type DemoSeeder struct {
	db          *gorm.DB
	repoManager *repository.RepositoryManager
	logger      *logrus.Logger
	rng         *rand.Rand
}

var (
	// Demo venues across South Africa, each with a deliberate weak spot so
	// scoring runs produce recommendations worth looking at.
	DemoVenues = []VenueConfig{
		{
			Name:       "Bella Notte Italian",
			Slug:       "bella-notte-italian",
			City:       "Cape Town",
			Category:   "Italian Restaurant",
			Issues:     []string{"SERVICE"},
			RatingDist: map[int]int{5: 35, 4: 25, 3: 15, 2: 15, 1: 10},
		},
		{
			Name:       "Big Mike's Burgers",
			Slug:       "big-mikes-burgers",
			City:       "Johannesburg",
			Category:   "Burger Restaurant",
			Issues:     []string{"CLEANLINESS"},
			RatingDist: map[int]int{5: 30, 4: 30, 3: 15, 2: 15, 1: 10},
		},
		{
			Name:       "Sakura Sushi House",
			Slug:       "sakura-sushi-house",
			City:       "Durban",
			Category:   "Japanese Restaurant",
			Issues:     []string{"VALUE"},
			RatingDist: map[int]int{5: 25, 4: 25, 3: 20, 2: 20, 1: 10},
		},
		{
			Name:       "The Rustic Tavern",
			Slug:       "the-rustic-tavern",
			City:       "Stellenbosch",
			Category:   "Pub",
			Issues:     []string{"AMBIANCE"},
			RatingDist: map[int]int{5: 30, 4: 25, 3: 20, 2: 15, 1: 10},
		},
		{
			Name:       "Spice Route Curry House",
			Slug:       "spice-route-curry-house",
			City:       "Pretoria",
			Category:   "Indian Restaurant",
			Issues:     []string{"SERVICE", "VALUE"},
			RatingDist: map[int]int{5: 20, 4: 25, 3: 20, 2: 20, 1: 15},
		},
	}

	positiveTemplates = map[string][]string{
		"FOOD": {
			"The food here is absolutely incredible! Best {dish} I've ever had.",
			"Delicious food, cooked to perfection. The {dish} was outstanding.",
			"Amazing flavors, fresh ingredients. Will definitely come back for the {dish}.",
			"Food quality is top notch. The {dish} melted in my mouth.",
			"Every dish was perfectly seasoned. Loved the {dish}!",
			"The chef clearly knows what they're doing. {dish} was divine.",
			"Fresh, tasty, and beautifully presented. The {dish} was a highlight.",
		},
		"SERVICE": {
			"Staff were incredibly friendly and attentive throughout our meal.",
			"Excellent service from start to finish. Our waiter was fantastic.",
			"The team here really knows how to make you feel welcome.",
			"Couldn't fault the service - prompt, professional, and friendly.",
			"Staff went above and beyond to accommodate our requests.",
		},
		"VALUE": {
			"Great value for money! Portions are generous and prices fair.",
			"Worth every cent. You get so much food for the price.",
			"Excellent quality at reasonable prices. Will be back!",
			"Best value restaurant in the area without a doubt.",
		},
		"AMBIANCE": {
			"Beautiful atmosphere, perfect for a special occasion.",
			"Lovely decor and great vibe. Very comfortable.",
			"The ambiance is wonderful - cozy and welcoming.",
			"Great setting, nice music, overall lovely experience.",
		},
		"CLEANLINESS": {
			"Spotlessly clean. You can tell they take hygiene seriously.",
			"Immaculate restaurant, tables always clean.",
			"Very hygienic, clean restrooms, well-maintained.",
		},
	}

	negativeTemplates = map[string][]string{
		"FOOD": {
			"Food was cold and bland. Very disappointed with the {dish}.",
			"The {dish} was overcooked and tasteless. Won't be ordering again.",
			"Quality has gone downhill. {dish} was stale and unappetizing.",
			"Portion sizes have shrunk but prices increased. {dish} was mediocre.",
			"Food took forever and arrived lukewarm. The {dish} was a letdown.",
		},
		"SERVICE": {
			"Service was terrible. Waited 20 minutes just to get menus.",
			"Staff seemed disinterested and rude. Had to ask multiple times for things.",
			"Worst service I've experienced. Our waiter forgot our order twice.",
			"Incredibly slow service, staff were nowhere to be found.",
			"Staff attitude was poor. Felt like we were bothering them.",
			"Had to wait forever to get the bill. Staff ignoring us.",
			"Service has really deteriorated. Used to be so much better.",
		},
		"VALUE": {
			"Way overpriced for what you get. Not worth the money at all.",
			"Prices have gone up significantly but portions have shrunk.",
			"Terrible value. Much better options elsewhere for the same price.",
			"Feel completely ripped off. Small portions, big prices.",
			"Used to be good value but now it's just expensive and mediocre.",
			"Highway robbery. The bill was shocking for what we received.",
		},
		"AMBIANCE": {
			"Too noisy, couldn't hear each other talk. Music was way too loud.",
			"Place is looking tired and run down. Needs a renovation.",
			"Uncomfortable seating and poor lighting. Not a pleasant atmosphere.",
			"Way too crowded and chaotic. Tables crammed together.",
			"Cold and drafty. The atmosphere was really unpleasant.",
			"Decor is outdated and the place smells musty.",
		},
		"CLEANLINESS": {
			"Tables were sticky and floor was dirty. Hygiene is a concern.",
			"Restrooms were filthy. Lost my appetite after visiting.",
			"Saw a cockroach near our table. Absolutely disgusting.",
			"Cutlery had food residue on it. Very unhygienic.",
			"Place needs a deep clean. Dust everywhere.",
			"Glasses had lipstick marks. Clearly not washed properly.",
		},
	}

	neutralTemplates = []string{
		"It was okay. Nothing special but not bad either.",
		"Average experience overall. Food was decent.",
		"Not the best, not the worst. Probably won't rush back.",
		"Mixed feelings. Some things were good, others not so much.",
		"Middle of the road. Expected more based on reviews.",
		"It was fine. Just an ordinary meal out.",
		"Unremarkable experience. Neither impressed nor disappointed.",
	}

	dishesByCategory = map[string][]string{
		"Italian Restaurant":  {"pasta carbonara", "margherita pizza", "lasagna", "risotto", "tiramisu", "gnocchi"},
		"Burger Restaurant":   {"classic burger", "bacon cheeseburger", "mushroom burger", "loaded fries", "milkshake"},
		"Japanese Restaurant": {"salmon sashimi", "dragon roll", "miso ramen", "teriyaki chicken", "tempura"},
		"Pub":                 {"fish and chips", "burger", "ribs", "wings", "nachos", "steak"},
		"Indian Restaurant":   {"butter chicken", "lamb curry", "biryani", "tikka masala", "naan bread", "samosas"},
	}

	authorNames = []string{
		"John", "Sarah", "Mike", "Emma", "David", "Lisa", "James", "Anna", "Chris", "Kate",
		"Tom", "Jessica", "Daniel", "Sophie", "Andrew", "Rachel", "Mark", "Emily", "Paul", "Amy",
		"Thabo", "Nomsa", "Sipho", "Zanele", "Kagiso", "Lerato", "Bongani", "Naledi", "Tshepo", "Palesa",
		"Pieter", "Annemarie", "Johan", "Liesl", "Willem", "Marietjie", "Francois", "Elmarie", "Hendrik", "Rina",
	}

	reviewSources = []string{"google", "google", "google", "website", "hellopeter"}
)

var (
	dryRun     = flag.Bool("dry-run", false, "Don't write to the database, just print what would be seeded")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	numReviews = flag.Int("reviews", 200, "Number of reviews to generate per tenant")
	daysBack   = flag.Int("days", 90, "Spread reviews over this many days back from now")
	randSeed   = flag.Int64("seed", 0, "Random seed (0 = time-based)")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	logger.Info("Starting demo data seeder...")

	seed := *randSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	var seeder *DemoSeeder
	if *dryRun {
		seeder = &DemoSeeder{logger: logger, rng: rng}
	} else {
		cfg, err := config.Load()
		if err != nil {
			logger.WithError(err).Fatal("Failed to load configuration")
		}

		dbConfig := &database.Config{
			DatabaseURL: cfg.Database.URL,
			RedisURL:    cfg.Redis.URL,
			LogLevel:    os.Getenv("LOG_LEVEL"),
		}

		dbManager, err := database.NewManager(dbConfig, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize database manager")
		}
		defer dbManager.Close()

		if err := dbManager.Migrate(); err != nil {
			logger.WithError(err).Fatal("Database migration failed")
		}

		seeder = &DemoSeeder{
			db:          dbManager.DB,
			repoManager: repository.NewRepositoryManager(dbManager.DB),
			logger:      logger,
			rng:         rng,
		}
	}

	if err := seeder.Seed(); err != nil {
		logger.WithError(err).Fatal("Seeding failed")
	}

	logger.Info("Demo data seeding completed successfully!")
}

func (s *DemoSeeder) Seed() error {
	if err := s.seedThemes(); err != nil {
		return fmt.Errorf("seeding themes: %w", err)
	}
	if err := s.seedParameterSet(); err != nil {
		return fmt.Errorf("seeding parameter set: %w", err)
	}

	for _, venue := range DemoVenues {
		if err := s.seedVenue(venue); err != nil {
			return fmt.Errorf("seeding %s: %w", venue.Name, err)
		}
	}
	return nil
}

// seedThemes inserts the default theme catalog with its keyword lists.
func (s *DemoSeeder) seedThemes() error {
	for _, kt := range themes.DefaultCatalog() {
		if *dryRun {
			s.logger.WithField("theme", kt.Name).Info("[dry-run] Would create theme")
			continue
		}

		theme := models.Theme{
			Name:     kt.Name,
			Category: kt.Category,
			Keywords: models.StringArray(kt.Keywords),
		}
		err := s.db.Where("name = ?", kt.Name).FirstOrCreate(&theme).Error
		if err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"theme":    theme.Name,
			"category": theme.Category,
		}).Debug("Theme ready")
	}
	return nil
}

// seedParameterSet creates and activates a version 1 set on the shipped
// defaults, unless some version is already active.
func (s *DemoSeeder) seedParameterSet() error {
	if *dryRun {
		s.logger.Info("[dry-run] Would create and activate parameter set v1")
		return nil
	}

	if active, err := s.repoManager.ParameterSet.GetActive(); err == nil {
		s.logger.WithField("version", active.Version).Info("Active parameter set already exists, skipping")
		return nil
	}

	raw, err := params.Encode(params.Defaults())
	if err != nil {
		return err
	}

	version, err := s.repoManager.ParameterSet.NextVersion()
	if err != nil {
		return err
	}

	set := &models.ParameterSet{
		Version:   version,
		Status:    models.ParamStatusDraft,
		Raw:       datatypes.JSON(raw),
		CreatedBy: "seed",
	}
	if err := s.repoManager.ParameterSet.Create(set); err != nil {
		return err
	}
	if err := s.repoManager.ParameterSet.Activate(set.ID, "seed", time.Now()); err != nil {
		return err
	}

	s.logger.WithField("version", version).Info("Activated baseline parameter set")
	return nil
}

func (s *DemoSeeder) seedVenue(venue VenueConfig) error {
	s.logger.WithFields(logrus.Fields{
		"tenant": venue.Name,
		"city":   venue.City,
		"issues": strings.Join(venue.Issues, ","),
	}).Info("Seeding tenant")

	var tenantID uint
	if !*dryRun {
		tenant := models.Tenant{
			Name:     venue.Name,
			Slug:     venue.Slug,
			City:     venue.City,
			Category: venue.Category,
		}
		if err := s.db.Where("slug = ?", venue.Slug).FirstOrCreate(&tenant).Error; err != nil {
			return err
		}
		tenantID = tenant.ID
	}

	ratings := s.ratingPlan(venue.RatingDist, *numReviews)
	created := 0
	for _, rating := range ratings {
		review := s.buildReview(tenantID, venue, rating)
		if *dryRun {
			s.logger.WithFields(logrus.Fields{
				"rating": rating,
				"source": review.SourceType,
			}).Debug(review.Content)
			continue
		}
		if err := s.repoManager.Review.Create(&review); err != nil {
			return err
		}
		created++
	}

	s.logger.WithFields(logrus.Fields{
		"tenant":  venue.Name,
		"reviews": created,
	}).Info("Tenant seeded")
	return nil
}

// ratingPlan expands a percentage distribution into a shuffled list of
// star ratings.
func (s *DemoSeeder) ratingPlan(dist map[int]int, total int) []int {
	ratings := make([]int, 0, total)
	for rating := 1; rating <= 5; rating++ {
		count := total * dist[rating] / 100
		for i := 0; i < count; i++ {
			ratings = append(ratings, rating)
		}
	}
	for len(ratings) < total {
		ratings = append(ratings, s.rng.Intn(5)+1)
	}
	s.rng.Shuffle(len(ratings), func(i, j int) {
		ratings[i], ratings[j] = ratings[j], ratings[i]
	})
	return ratings
}

func (s *DemoSeeder) buildReview(tenantID uint, venue VenueConfig, rating int) models.Review {
	content := s.reviewText(venue, rating)
	reviewedAt := time.Now().
		AddDate(0, 0, -(s.rng.Intn(*daysBack) + 1)).
		Add(-time.Duration(s.rng.Intn(24*60)) * time.Minute)

	r := rating
	review := models.Review{
		TenantID:   tenantID,
		SourceType: reviewSources[s.rng.Intn(len(reviewSources))],
		ExternalID: fmt.Sprintf("%s-%s", venue.Slug, utils.GenerateRandomID(12)),
		Author:     authorNames[s.rng.Intn(len(authorNames))],
		Content:    content,
		Rating:     &r,
		ReviewedAt: reviewedAt,
	}

	// Positive reviews collect likes; angry ones draw replies.
	if rating >= 4 {
		review.LikesCount = s.rng.Intn(5)
		review.HelpfulCount = s.rng.Intn(3)
	} else if rating <= 2 {
		review.RepliesCount = s.rng.Intn(2)
		review.HelpfulCount = s.rng.Intn(6)
	}

	return review
}

func (s *DemoSeeder) reviewText(venue VenueConfig, rating int) string {
	dishes := dishesByCategory[venue.Category]
	if len(dishes) == 0 {
		dishes = []string{"signature dish"}
	}
	dish := dishes[s.rng.Intn(len(dishes))]

	switch {
	case rating >= 4:
		categories := s.sampleCategories(positiveTemplates, s.rng.Intn(3)+1)
		parts := make([]string, 0, len(categories))
		for _, c := range categories {
			parts = append(parts, s.fill(positiveTemplates[c], dish))
		}
		return strings.Join(parts, " ")

	case rating <= 2:
		// Complaints mostly target the venue's known weak spots.
		if len(venue.Issues) > 0 && s.rng.Float64() < 0.7 {
			issue := venue.Issues[s.rng.Intn(len(venue.Issues))]
			text := s.fill(negativeTemplates[issue], dish)
			if s.rng.Float64() < 0.4 {
				other := s.sampleCategories(negativeTemplates, 1)[0]
				text += " " + s.fill(negativeTemplates[other], dish)
			}
			return text
		}
		categories := s.sampleCategories(negativeTemplates, s.rng.Intn(2)+1)
		parts := make([]string, 0, len(categories))
		for _, c := range categories {
			parts = append(parts, s.fill(negativeTemplates[c], dish))
		}
		return strings.Join(parts, " ")

	default:
		text := neutralTemplates[s.rng.Intn(len(neutralTemplates))]
		if s.rng.Float64() < 0.5 {
			if len(venue.Issues) > 0 && s.rng.Float64() < 0.5 {
				issue := venue.Issues[s.rng.Intn(len(venue.Issues))]
				text += " " + s.fill(negativeTemplates[issue], dish)
			} else {
				text += fmt.Sprintf(" The %s was decent.", dish)
			}
		}
		return text
	}
}

func (s *DemoSeeder) sampleCategories(templates map[string][]string, n int) []string {
	keys := make([]string, 0, len(templates))
	for k := range templates {
		keys = append(keys, k)
	}
	s.rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	if n > len(keys) {
		n = len(keys)
	}
	return keys[:n]
}

func (s *DemoSeeder) fill(templates []string, dish string) string {
	return strings.ReplaceAll(templates[s.rng.Intn(len(templates))], "{dish}", dish)
}
