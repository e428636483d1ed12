package game

// Class identifiers accepted at join time.
const (
	ClassGuardian    = "guardian"
	ClassHunter      = "hunter"
	ClassBladedancer = "bladedancer"
	ClassRogue       = "rogue"
)

// ClassStats are the base combat parameters per class. Damage modifiers
// are flat additions applied on top of the attack's base damage.
type ClassStats struct {
	MaxHP          int
	MaxArmorHP     int
	MoveSpeed      float64 // world units per second
	DamageModifier int
}

var classTable = map[string]ClassStats{
	ClassGuardian:    {MaxHP: 140, MaxArmorHP: 60, MoveSpeed: 220, DamageModifier: 3},
	ClassHunter:      {MaxHP: 100, MaxArmorHP: 30, MoveSpeed: 260, DamageModifier: 2},
	ClassBladedancer: {MaxHP: 90, MaxArmorHP: 20, MoveSpeed: 240, DamageModifier: 5},
	ClassRogue:       {MaxHP: 110, MaxArmorHP: 25, MoveSpeed: 280, DamageModifier: 4},
}

// DefaultClass is assigned when the join request omits or misspells the class.
const DefaultClass = ClassGuardian

// StatsForClass returns the base stats, falling back to the default class.
func StatsForClass(class string) (string, ClassStats) {
	if s, ok := classTable[class]; ok {
		return class, s
	}
	return DefaultClass, classTable[DefaultClass]
}

// ValidClass reports whether class names a known class.
func ValidClass(class string) bool {
	_, ok := classTable[class]
	return ok
}

// LevelBonuses are the cumulative per-level combat bonuses. All bonuses
// are fractions (0.05 = 5%) except DamageBonus, which is a flat addition.
type LevelBonuses struct {
	MoveSpeedBonus      float64
	AttackRecoveryBonus float64
	AttackCooldownBonus float64
	DamageBonus         int
	RollUnlocked        bool
}

// MaxLevel caps progression; XP past the final threshold is retained but
// grants nothing further.
const MaxLevel = 10

// RollUnlockLevel is the level at which the roll ability becomes available.
const RollUnlockLevel = 3

// xpThresholds[n] is the total XP required to reach level n+2 (index 0 is
// the level 1 → 2 threshold).
var xpThresholds = [MaxLevel - 1]int{100, 250, 450, 700, 1000, 1400, 1900, 2500, 3200}

// LevelForXP returns the level earned by a total XP amount.
func LevelForXP(xp int) int {
	level := 1
	for _, threshold := range xpThresholds {
		if xp < threshold {
			break
		}
		level++
	}
	return level
}

// BonusesForLevel returns the cumulative bonuses at the given level.
// Each level past 1 grants +3% move speed, 4% faster recovery, 4% shorter
// cooldowns and +1 flat damage.
func BonusesForLevel(level int) LevelBonuses {
	if level < 1 {
		level = 1
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	steps := float64(level - 1)
	return LevelBonuses{
		MoveSpeedBonus:      0.03 * steps,
		AttackRecoveryBonus: 0.04 * steps,
		AttackCooldownBonus: 0.04 * steps,
		DamageBonus:         level - 1,
		RollUnlocked:        level >= RollUnlockLevel,
	}
}

// XPForKill returns the XP awarded for killing the given monster type.
func XPForKill(monsterType string) int {
	if s, ok := monsterTable[monsterType]; ok {
		return s.XPValue
	}
	return 10
}
