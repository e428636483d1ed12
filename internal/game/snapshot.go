package game

// Snapshot renders an entity as the flat field map sent on the wire.
// The network layer diffs these maps per client; field names here are
// the contract with delta compression, so additions are safe but
// renames are not.
func (e *Entity) Snapshot(tick uint64) map[string]any {
	switch e.Kind {
	case KindPlayer:
		return e.playerSnapshot(tick)
	case KindMonster:
		return e.monsterSnapshot(tick)
	case KindProjectile:
		return e.projectileSnapshot()
	case KindEffect:
		return e.effectSnapshot()
	default:
		return map[string]any{"id": e.ID, "kind": "unknown", "hp": e.HP}
	}
}

func (e *Entity) playerSnapshot(tick uint64) map[string]any {
	p := e.Player
	snap := map[string]any{
		"id":                  e.ID,
		"kind":                "player",
		"name":                p.Name,
		"class":               p.Class,
		"x":                   e.X,
		"y":                   e.Y,
		"facing":              e.Facing,
		"hp":                  e.HP,
		"maxHp":               e.MaxHP,
		"armorHp":             p.ArmorHP,
		"maxArmorHp":          p.MaxArmorHP,
		"xp":                  p.XP,
		"level":               p.Level,
		"moveSpeedBonus":      p.Bonuses.MoveSpeedBonus,
		"attackRecoveryBonus": p.Bonuses.AttackRecoveryBonus,
		"attackCooldownBonus": p.Bonuses.AttackCooldownBonus,
		"damageBonus":         p.Bonuses.DamageBonus,
		"rollUnlocked":        p.Bonuses.RollUnlocked,
		"isInvulnerable":      e.Invulnerable,
		"isDead":              e.Dead,
		"isStunned":           e.Stunned(tick),
		"connected":           p.ClientID != "",
	}
	if p.Attack != nil {
		snap["attackType"] = p.Attack.Key
		snap["attackPhase"] = p.Attack.Phase.String()
	} else {
		snap["attackType"] = ""
		snap["attackPhase"] = PhaseReady.String()
	}
	return snap
}

func (e *Entity) monsterSnapshot(tick uint64) map[string]any {
	mo := e.Monster
	snap := map[string]any{
		"id":          e.ID,
		"kind":        "monster",
		"monsterType": mo.Type,
		"x":           e.X,
		"y":           e.Y,
		"facing":      e.Facing,
		"hp":          e.HP,
		"maxHp":       e.MaxHP,
		"state":       mo.State.String(),
		"isDead":      e.Dead,
		"isStunned":   e.Stunned(tick),
	}
	if mo.Attack != nil {
		snap["currentAttackType"] = mo.Attack.Key
		snap["attackPhase"] = mo.Attack.Phase.String()
	} else {
		snap["currentAttackType"] = ""
		snap["attackPhase"] = PhaseReady.String()
	}
	// Trajectory endpoints let clients animate dashes and lunges locally
	// instead of chasing interpolated positions.
	if t := mo.Trajectory; t != nil {
		snap["dashStartX"] = t.StartX
		snap["dashStartY"] = t.StartY
		snap["dashEndX"] = t.EndX
		snap["dashEndY"] = t.EndY
		snap["dashStartTick"] = t.StartTick
		snap["dashEndTick"] = t.EndTick
	}
	return snap
}

func (e *Entity) projectileSnapshot() map[string]any {
	pr := e.Projectile
	return map[string]any{
		"id":      e.ID,
		"kind":    "projectile",
		"x":       e.X,
		"y":       e.Y,
		"dirX":    pr.DirX,
		"dirY":    pr.DirY,
		"speed":   pr.Speed,
		"radius":  e.Radius,
		"ownerId": pr.OwnerID,
	}
}

func (e *Entity) effectSnapshot() map[string]any {
	return map[string]any{
		"id":         e.ID,
		"kind":       "effect",
		"effectType": e.Effect.Type,
		"x":          e.X,
		"y":          e.Y,
	}
}
