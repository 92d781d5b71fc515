package application

import (
	"math"
	"math/rand/v2"
)

const (
	botAngleStep   = 0.05
	botPowerStep   = 50.0
	botAimTolFast  = AimStep * AimFastMult
	botPowerTol    = PowerStep
	botMaxAimNoise = 0.03 // rad
)

// RuleBotController は軌道予測で照準を決めるルールベースのボットAIです。
// ボットごとに異なる個性パラメータを持ちます。
type RuleBotController struct {
	AimNoise   float64 // 照準のぶれ (rad)
	PowerNoise float64 // 威力のぶれ

	rng    *rand.Rand
	plan   *botPlan
	myTurn bool
}

type botPlan struct {
	targetID string
	angle    float64
	power    float64
}

// NewRuleBotController はランダムな個性を持つボットAIを生成します。
func NewRuleBotController(rng *rand.Rand) *RuleBotController {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RuleBotController{
		AimNoise:   rng.Float64() * botMaxAimNoise,
		PowerNoise: 10 + rng.Float64()*40, // 10〜50
		rng:        rng,
	}
}

func (r *RuleBotController) Decide(selfID string, state *GameStateSnapshot) BotAction {
	if state == nil || state.Finished || state.CurrentPlayerID != selfID {
		r.myTurn = false
		r.plan = nil
		return BotAction{}
	}
	// 弾や爆発が残っている間は発射済みとみなして待つ
	if len(state.Missiles) > 0 || len(state.Explosions) > 0 {
		return BotAction{}
	}

	var self *PlayerSnapshot
	for i := range state.Players {
		if state.Players[i].ID == selfID {
			self = &state.Players[i]
		}
	}
	if self == nil || self.IsDead {
		return BotAction{}
	}

	if !r.myTurn || r.plan == nil {
		r.myTurn = true
		r.plan = r.makePlan(self, state)
		if r.plan == nil {
			return BotAction{}
		}
	}

	return r.steer(self, r.plan)
}

// steer は現在の照準と威力を計画値へ近づける操作を返します。両方が許容範囲に入ったら発射します。
func (r *RuleBotController) steer(self *PlayerSnapshot, plan *botPlan) BotAction {
	var action BotAction
	aimed := true
	if diff := plan.angle - self.FacingAngle; math.Abs(diff) > AimStep {
		aimed = false
		action.Aim = math.Copysign(1, diff)
		action.Fast = math.Abs(diff) > botAimTolFast
	}
	powered := true
	if diff := plan.power - self.Power; math.Abs(diff) > botPowerTol {
		powered = false
		action.Power = math.Copysign(1, diff)
	}
	action.Fire = aimed && powered
	return action
}

// makePlan は最寄りの生存敵の中心に最も近く着弾する角度と威力を総当たりで探します。
func (r *RuleBotController) makePlan(self *PlayerSnapshot, state *GameStateSnapshot) *botPlan {
	target := r.findNearestEnemy(self, state.Players)
	if target == nil {
		return nil
	}
	mesh := TerrainMesh{Points: state.TerrainMesh}
	shooter := playerFromSnapshot(*self)
	goal := playerFromSnapshot(*target).Center()

	best := &botPlan{targetID: target.ID, angle: self.FacingAngle, power: self.Power}
	bestDist := math.Inf(1)
	for angle := MinFacingAngle; angle <= MaxFacingAngle; angle += botAngleStep {
		for power := MinCanonVelocity; power <= MaxCanonVelocity; power += botPowerStep {
			shooter.FacingAngle = angle
			shooter.Power = power
			tr := PredictTrajectory(&mesh, state.Gravity, state.Wind, shooter.CanonTipPosition(), shooter.CanonTipVelocity())
			if !tr.Hit {
				continue
			}
			if d := tr.Impact.DistanceSquared(goal); d < bestDist {
				bestDist = d
				best.angle, best.power = angle, power
			}
		}
	}

	best.angle = clamp(best.angle+(r.rng.Float64()*2-1)*r.AimNoise, MinFacingAngle, MaxFacingAngle)
	best.power = clamp(best.power+(r.rng.Float64()*2-1)*r.PowerNoise, MinCanonVelocity, MaxCanonVelocity)
	return best
}

// findNearestEnemy は水平距離が最も近い生存敵を探します。
func (r *RuleBotController) findNearestEnemy(self *PlayerSnapshot, players []PlayerSnapshot) *PlayerSnapshot {
	var nearest *PlayerSnapshot
	nearestDist := math.Inf(1)
	for i := range players {
		other := &players[i]
		if other.ID == self.ID || other.IsDead {
			continue
		}
		if d := math.Abs(other.Position.X - self.Position.X); d < nearestDist {
			nearestDist = d
			nearest = other
		}
	}
	return nearest
}
