package game

import "math/rand"

// Spawner places the initial monster population and finds player spawn
// points. All placement derives from the world seed, so two servers
// with the same seed and mask produce identical worlds.
type Spawner struct {
	world *World
	rng   *rand.Rand
}

// NewSpawner builds a spawner over the world using the given seeded RNG.
func NewSpawner(world *World, rng *rand.Rand) *Spawner {
	return &Spawner{world: world, rng: rng}
}

// SpawnMonsters populates the world with count monsters cycling through
// the known types, each placed on open ground near a random home point.
func (s *Spawner) SpawnMonsters(count int) {
	for i := 0; i < count; i++ {
		monsterType := MonsterTypes[i%len(MonsterTypes)]
		stats, _ := StatsForMonster(monsterType)

		x, y, ok := s.openPosition(stats.Radius, 100)
		if !ok {
			continue
		}
		s.world.Add(&Entity{
			ID:     NewID(),
			Kind:   KindMonster,
			X:      x,
			Y:      y,
			Radius: stats.Radius,
			HP:     stats.MaxHP,
			MaxHP:  stats.MaxHP,
			Monster: &MonsterState{
				Type:  monsterType,
				State: StateDormant,
				HomeX: x,
				HomeY: y,
			},
		})
	}
}

// PlayerSpawnPoint returns an open position for a joining or respawning
// player.
func (s *Spawner) PlayerSpawnPoint() (x, y float64) {
	const playerRadius = 16
	if x, y, ok := s.openPosition(playerRadius, 200); ok {
		return x, y
	}
	// Pathological mask; drop them at the center and let sliding sort it out.
	w, h := s.world.Mask.WorldBounds()
	return w / 2, h / 2
}

// openPosition samples random world positions until one clears the mask.
func (s *Spawner) openPosition(radius float64, attempts int) (float64, float64, bool) {
	w, h := s.world.Mask.WorldBounds()
	for i := 0; i < attempts; i++ {
		x := s.rng.Float64() * w
		y := s.rng.Float64() * h
		if !s.world.Mask.BlockedCircle(x, y, radius) {
			return x, y, true
		}
	}
	return 0, 0, false
}
